package swapdb

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

var byteOrder = binary.BigEndian

// serializeSubmarine encodes a submarine swap row.
func serializeSubmarine(s *Submarine) ([]byte, error) {
	var b bytes.Buffer

	if err := wire.WriteVarString(&b, 0, s.Pair.String()); err != nil {
		return nil, err
	}

	err := writeElements(
		&b, s.OrderSide, s.Version, s.PreimageHash, s.KeyIndex,
	)
	if err != nil {
		return nil, err
	}

	if err := wire.WriteVarString(&b, 0, s.Invoice); err != nil {
		return nil, err
	}

	if err := writePreimage(&b, s.Preimage); err != nil {
		return nil, err
	}

	err = writeVarBytesAll(
		&b, s.RedeemScript, s.SwapTree, s.TheirPublicKey,
	)
	if err != nil {
		return nil, err
	}

	if err := wire.WriteVarString(&b, 0, s.LockupAddress); err != nil {
		return nil, err
	}

	err = writeElements(
		&b, s.TimeoutBlockHeight, s.ExpectedAmount, s.OnchainAmount,
	)
	if err != nil {
		return nil, err
	}

	err = wire.WriteVarString(&b, 0, s.LockupTransactionID)
	if err != nil {
		return nil, err
	}

	err = writeElements(
		&b, s.LockupTransactionVout, s.Rate, s.MinerFee,
		s.AcceptZeroConf, s.Status, s.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeSubmarine decodes a submarine swap row.
func deserializeSubmarine(id string, value []byte) (*Submarine, error) {
	r := bytes.NewReader(value)
	s := &Submarine{ID: id}

	pair, err := wire.ReadVarString(r, 0)
	if err != nil {
		return nil, err
	}
	if s.Pair, err = ParsePair(pair); err != nil {
		return nil, err
	}

	err = readElements(
		r, &s.OrderSide, &s.Version, &s.PreimageHash, &s.KeyIndex,
	)
	if err != nil {
		return nil, err
	}

	if s.Invoice, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}

	if s.Preimage, err = readPreimage(r); err != nil {
		return nil, err
	}

	err = readVarBytesAll(
		r, &s.RedeemScript, &s.SwapTree, &s.TheirPublicKey,
	)
	if err != nil {
		return nil, err
	}

	if s.LockupAddress, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}

	err = readElements(
		r, &s.TimeoutBlockHeight, &s.ExpectedAmount, &s.OnchainAmount,
	)
	if err != nil {
		return nil, err
	}

	s.LockupTransactionID, err = wire.ReadVarString(r, 0)
	if err != nil {
		return nil, err
	}

	var unixNano int64
	err = readElements(
		r, &s.LockupTransactionVout, &s.Rate, &s.MinerFee,
		&s.AcceptZeroConf, &s.Status, &unixNano,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(0, unixNano)

	return s, nil
}

// serializeReverse encodes a reverse swap row.
func serializeReverse(rev *Reverse) ([]byte, error) {
	var b bytes.Buffer

	if err := wire.WriteVarString(&b, 0, rev.Pair.String()); err != nil {
		return nil, err
	}

	err := writeElements(
		&b, rev.OrderSide, rev.Version, rev.PreimageHash, rev.KeyIndex,
	)
	if err != nil {
		return nil, err
	}

	err = writeStrings(&b, rev.Invoice, rev.MinerFeeInvoice)
	if err != nil {
		return nil, err
	}

	err = writePreimage(&b, rev.MinerFeeInvoicePreimage)
	if err != nil {
		return nil, err
	}

	if err := writePreimage(&b, rev.Preimage); err != nil {
		return nil, err
	}

	err = writeVarBytesAll(
		&b, rev.RedeemScript, rev.SwapTree, rev.TheirPublicKey,
	)
	if err != nil {
		return nil, err
	}

	err = writeStrings(&b, rev.ClaimAddress, rev.LockupAddress)
	if err != nil {
		return nil, err
	}

	err = writeElements(
		&b, rev.OnchainAmount, rev.MinerFeeOnchainAmount,
		rev.TimeoutBlockHeight,
	)
	if err != nil {
		return nil, err
	}

	if err := wire.WriteVarString(&b, 0, rev.TransactionID); err != nil {
		return nil, err
	}

	err = writeElements(&b, rev.TransactionVout, rev.MinerFee)
	if err != nil {
		return nil, err
	}

	if err := wire.WriteVarString(&b, 0, rev.Node); err != nil {
		return nil, err
	}

	err = writeElements(&b, rev.Status, rev.CreatedAt.UnixNano())
	if err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeReverse decodes a reverse swap row.
func deserializeReverse(id string, value []byte) (*Reverse, error) {
	r := bytes.NewReader(value)
	rev := &Reverse{ID: id}

	pair, err := wire.ReadVarString(r, 0)
	if err != nil {
		return nil, err
	}
	if rev.Pair, err = ParsePair(pair); err != nil {
		return nil, err
	}

	err = readElements(
		r, &rev.OrderSide, &rev.Version, &rev.PreimageHash,
		&rev.KeyIndex,
	)
	if err != nil {
		return nil, err
	}

	err = readStrings(r, &rev.Invoice, &rev.MinerFeeInvoice)
	if err != nil {
		return nil, err
	}

	rev.MinerFeeInvoicePreimage, err = readPreimage(r)
	if err != nil {
		return nil, err
	}

	if rev.Preimage, err = readPreimage(r); err != nil {
		return nil, err
	}

	err = readVarBytesAll(
		r, &rev.RedeemScript, &rev.SwapTree, &rev.TheirPublicKey,
	)
	if err != nil {
		return nil, err
	}

	err = readStrings(r, &rev.ClaimAddress, &rev.LockupAddress)
	if err != nil {
		return nil, err
	}

	err = readElements(
		r, &rev.OnchainAmount, &rev.MinerFeeOnchainAmount,
		&rev.TimeoutBlockHeight,
	)
	if err != nil {
		return nil, err
	}

	if rev.TransactionID, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}

	err = readElements(r, &rev.TransactionVout, &rev.MinerFee)
	if err != nil {
		return nil, err
	}

	if rev.Node, err = wire.ReadVarString(r, 0); err != nil {
		return nil, err
	}

	var unixNano int64
	if err := readElements(r, &rev.Status, &unixNano); err != nil {
		return nil, err
	}
	rev.CreatedAt = time.Unix(0, unixNano)

	return rev, nil
}

// serializeChain encodes a chain swap row.
func serializeChain(c *Chain) ([]byte, error) {
	var b bytes.Buffer

	if err := writeElements(&b, c.Version, c.PreimageHash); err != nil {
		return nil, err
	}

	if err := writePreimage(&b, c.Preimage); err != nil {
		return nil, err
	}

	if err := serializeChainData(&b, &c.Sending); err != nil {
		return nil, err
	}

	if err := serializeChainData(&b, &c.Receiving); err != nil {
		return nil, err
	}

	err := writeElements(
		&b, c.AcceptZeroConf, c.Status, c.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeChain decodes a chain swap row.
func deserializeChain(id string, value []byte) (*Chain, error) {
	r := bytes.NewReader(value)
	c := &Chain{ID: id}

	err := readElements(r, &c.Version, &c.PreimageHash)
	if err != nil {
		return nil, err
	}

	if c.Preimage, err = readPreimage(r); err != nil {
		return nil, err
	}

	if err := deserializeChainData(r, &c.Sending); err != nil {
		return nil, err
	}

	if err := deserializeChainData(r, &c.Receiving); err != nil {
		return nil, err
	}

	var unixNano int64
	err = readElements(r, &c.AcceptZeroConf, &c.Status, &unixNano)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, unixNano)

	return c, nil
}

func serializeChainData(b *bytes.Buffer, d *ChainData) error {
	err := writeStrings(b, d.Symbol, d.LockupAddress, d.ClaimAddress)
	if err != nil {
		return err
	}

	err = writeElements(
		b, d.ExpectedAmount, d.Amount, d.TimeoutBlockHeight,
		d.KeyIndex,
	)
	if err != nil {
		return err
	}

	err = writeVarBytesAll(
		b, d.RedeemScript, d.SwapTree, d.TheirPublicKey,
	)
	if err != nil {
		return err
	}

	if err := wire.WriteVarString(b, 0, d.TransactionID); err != nil {
		return err
	}

	return writeElements(b, d.TransactionVout, d.Fee)
}

func deserializeChainData(r io.Reader, d *ChainData) error {
	err := readStrings(r, &d.Symbol, &d.LockupAddress, &d.ClaimAddress)
	if err != nil {
		return err
	}

	err = readElements(
		r, &d.ExpectedAmount, &d.Amount, &d.TimeoutBlockHeight,
		&d.KeyIndex,
	)
	if err != nil {
		return err
	}

	err = readVarBytesAll(
		r, &d.RedeemScript, &d.SwapTree, &d.TheirPublicKey,
	)
	if err != nil {
		return err
	}

	if d.TransactionID, err = wire.ReadVarString(r, 0); err != nil {
		return err
	}

	return readElements(r, &d.TransactionVout, &d.Fee)
}

// serializeRefund encodes a refund transaction row.
func serializeRefund(ref *RefundTransaction) ([]byte, error) {
	var b bytes.Buffer

	if err := writeElements(&b, ref.Kind); err != nil {
		return nil, err
	}

	if err := writeStrings(&b, ref.Symbol, ref.TxID); err != nil {
		return nil, err
	}

	hasVin := ref.Vin != nil
	var vin uint32
	if hasVin {
		vin = *ref.Vin
	}

	if err := writeElements(&b, hasVin, vin, ref.Settled); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeRefund decodes a refund transaction row.
func deserializeRefund(swapID string, value []byte) (*RefundTransaction,
	error) {

	r := bytes.NewReader(value)
	ref := &RefundTransaction{SwapID: swapID}

	if err := readElements(r, &ref.Kind); err != nil {
		return nil, err
	}

	if err := readStrings(r, &ref.Symbol, &ref.TxID); err != nil {
		return nil, err
	}

	var (
		hasVin bool
		vin    uint32
	)
	if err := readElements(r, &hasVin, &vin, &ref.Settled); err != nil {
		return nil, err
	}
	if hasVin {
		ref.Vin = &vin
	}

	return ref, nil
}

// serializeChannelCreation encodes a channel creation row.
func serializeChannelCreation(c *ChannelCreation) ([]byte, error) {
	var b bytes.Buffer

	err := writeElements(&b, c.Private, c.InboundLiquidity)
	if err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeChannelCreation decodes a channel creation row.
func deserializeChannelCreation(swapID string, value []byte) (
	*ChannelCreation, error) {

	r := bytes.NewReader(value)
	c := &ChannelCreation{SwapID: swapID}

	err := readElements(r, &c.Private, &c.InboundLiquidity)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// writeElements writes the fixed size values in order.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := binary.Write(w, byteOrder, element); err != nil {
			return err
		}
	}

	return nil
}

// readElements reads the fixed size values in order.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := binary.Read(r, byteOrder, element); err != nil {
			return err
		}
	}

	return nil
}

// writeStrings writes the var strings in order.
func writeStrings(w io.Writer, strs ...string) error {
	for _, s := range strs {
		if err := wire.WriteVarString(w, 0, s); err != nil {
			return err
		}
	}

	return nil
}

// readStrings reads the var strings in order.
func readStrings(r io.Reader, strs ...*string) error {
	for _, s := range strs {
		str, err := wire.ReadVarString(r, 0)
		if err != nil {
			return err
		}
		*s = str
	}

	return nil
}

// writeVarBytesAll writes the byte slices in order, nil slices as zero
// length.
func writeVarBytesAll(w io.Writer, slices ...[]byte) error {
	for _, b := range slices {
		if err := wire.WriteVarBytes(w, 0, b); err != nil {
			return err
		}
	}

	return nil
}

// readVarBytesAll reads the byte slices in order, zero length slices as nil.
func readVarBytesAll(r io.Reader, slices ...*[]byte) error {
	for _, b := range slices {
		data, err := wire.ReadVarBytes(r, 0, maxFieldSize, "field")
		if err != nil {
			return err
		}
		if len(data) == 0 {
			data = nil
		}
		*b = data
	}

	return nil
}

// writePreimage writes an optional preimage as a presence byte followed by
// the preimage itself.
func writePreimage(w io.Writer, preimage *lntypes.Preimage) error {
	if preimage == nil {
		return writeElements(w, false)
	}

	return writeElements(w, true, *preimage)
}

// readPreimage reads an optional preimage written by writePreimage.
func readPreimage(r io.Reader) (*lntypes.Preimage, error) {
	var present bool
	if err := readElements(r, &present); err != nil {
		return nil, err
	}

	if !present {
		return nil, nil
	}

	var preimage lntypes.Preimage
	if err := readElements(r, &preimage); err != nil {
		return nil, err
	}

	return &preimage, nil
}

// maxFieldSize bounds variable length fields to keep a corrupt row from
// allocating unbounded memory.
const maxFieldSize = 10_000

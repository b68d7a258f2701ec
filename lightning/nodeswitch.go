package lightning

import "fmt"

// NodeSwitch routes swaps to Lightning nodes. Swaps may pin a node by
// name, everything else uses the default node.
type NodeSwitch struct {
	defaultClient Client
	clients       map[string]Client
}

// NewNodeSwitch creates a node switch over the given clients. The first
// client is the default.
func NewNodeSwitch(clients ...Client) (*NodeSwitch, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("no lightning clients configured")
	}

	byName := make(map[string]Client, len(clients))
	for _, client := range clients {
		name := client.Name()
		if _, ok := byName[name]; ok {
			return nil, fmt.Errorf("duplicate lightning "+
				"client %v", name)
		}

		byName[name] = client
	}

	return &NodeSwitch{
		defaultClient: clients[0],
		clients:       byName,
	}, nil
}

// Default returns the default node.
func (n *NodeSwitch) Default() Client {
	return n.defaultClient
}

// ForSwap returns the node a swap is pinned to, or the default node when
// no pin is set.
func (n *NodeSwitch) ForSwap(node string) (Client, error) {
	if node == "" {
		return n.defaultClient, nil
	}

	client, ok := n.clients[node]
	if !ok {
		return nil, fmt.Errorf("unknown lightning node %v", node)
	}

	return client, nil
}

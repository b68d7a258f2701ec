package main

import (
	"fmt"
	"os"

	"github.com/swapdhq/swapd/daemon"
)

func main() {
	err := daemon.Run()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

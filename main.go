package main

import (
	"fmt"
	"os"
)

// 版本資訊 (建置時以 -ldflags "-X main.Version=..." 注入)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ovumpoll: %v\n", err)
		os.Exit(1)
	}
}

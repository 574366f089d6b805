package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"argus-vision-server/internal/bootstrap"
)

func main() {
	fmt.Printf("[%s] [INFO] [引导] 开始启动 argus-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "argus-server failed: %v\n", err)
		os.Exit(1)
	}
}

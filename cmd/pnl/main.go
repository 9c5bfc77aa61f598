// Command pnl is the Binance daily P&L dashboard.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"pnl-dashboard/internal/cli"
)

func main() {
	// A missing .env is normal; the environment and config files still apply.
	_ = godotenv.Load()
	os.Exit(cli.Execute())
}

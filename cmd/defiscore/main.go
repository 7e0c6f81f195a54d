package main

import (
	"github.com/joho/godotenv"
	"github.com/mchmarny/defiscore/pkg/cli"
)

func main() {
	// Local .env is optional.
	_ = godotenv.Load()

	cli.Execute()
}

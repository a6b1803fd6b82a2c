package main

import (
	"log"

	"github.com/tunegate/tunegate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

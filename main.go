package main

import (
	"log"

	"github.com/govmm/superio/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}

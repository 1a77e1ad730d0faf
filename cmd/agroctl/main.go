package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/smartagro/internal/admin"
)

func main() {
	if err := admin.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agroctl:", err)
		os.Exit(1)
	}
}

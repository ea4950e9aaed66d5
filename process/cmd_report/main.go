package main

import (
	"flag"
	"fmt"
	"os"

	"parkingbolid/process/report"
)

func main() {
	dir := flag.String("dir", "inbox", "inbox directory the scanner worked on")
	month := flag.String("month", "", "month to report (YYYY-MM, default all)")
	list := flag.Bool("list", false, "list every scan")
	flag.Parse()

	sum, err := report.Summarize(*dir, *month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	sum.Print(os.Stdout, *list)
}

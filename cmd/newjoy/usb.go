package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/newjoy/adapter"
	"github.com/mklimuk/newjoy/cmd/newjoy/console"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "list HID devices and known adapters",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name: "ls",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")

		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

type knownAdapter struct {
	name    string
	vendor  uint16
	product uint16
}

var knownAdapters = []knownAdapter{
	{name: "MCP2221", vendor: adapter.VendorID, product: adapter.ProductID},
}

// usbDetectCmd lists supported adapters with the index that selects them
// when more than one is plugged in.
var usbDetectCmd = cli.Command{
	Name: "detect",
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(os.Stdout, 16, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tDEVICE\tVENDOR\tPRODUCT\tPATH\n")
		found := 0
		for _, known := range knownAdapters {
			for id, dev := range hid.Enumerate(known.vendor, known.product) {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%#x\t%#x\t%s\n", id, known.name, dev.VendorID, dev.ProductID, dev.Path)
				found++
			}
		}
		_ = w.Flush()
		if found == 0 {
			console.Warn("no known adapter connected")
		}
		return nil
	},
}

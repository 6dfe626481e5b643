// Command lanalyze-info lists the decoders registered in the built-in
// registry, or pretty-prints one decoder's full descriptor.
package main

import (
	"fmt"
	"os"

	"github.com/kylelemons/godebug/pretty"
	"github.com/spf13/pflag"

	"github.com/hdlbus/lanalyzer"
	"github.com/hdlbus/lanalyzer/decoder/i2c"
	"github.com/hdlbus/lanalyzer/decoder/spi"
	"github.com/hdlbus/lanalyzer/decoder/uart"
)

var flagID = pflag.StringP("id", "i", "", "Print the full descriptor for this decoder ID")

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: lanalyze-info [OPTION]...")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	pflag.PrintDefaults()
}

func main() {
	pflag.Usage = usage
	pflag.Parse()

	reg := lanalyzer.NewRegistry()
	reg.Register("i2c", i2c.New)
	reg.Register("spi", spi.New)
	reg.Register("uart", uart.New)

	if *flagID != "" {
		factory := reg.Get(*flagID)
		if factory == nil {
			fmt.Fprintf(os.Stderr, "lanalyze-info: no decoder registered for id %q\n", *flagID)
			os.Exit(1)
		}
		fmt.Println(pretty.Sprint(factory().Describe()))
		return
	}

	for _, d := range reg.ListDescriptors() {
		fmt.Printf("%-6s %-30s %s\n", d.ID, d.Name, d.Description)
	}
}

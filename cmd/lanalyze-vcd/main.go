// Command lanalyze-vcd exports a LAC capture's channels as a Value Change
// Dump file.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/hdlbus/lanalyzer"
	"github.com/hdlbus/lanalyzer/lac"
)

var (
	flagChannels = pflag.StringP("channels", "c", "", "Comma-separated channel numbers to export; default all")
	flagOutput   = pflag.StringP("output", "o", "", "Output file path; default stdout")
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: lanalyze-vcd [OPTION]... FILE.lac")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	pflag.PrintDefaults()
}

func main() {
	pflag.Usage = usage
	pflag.Parse()
	if pflag.NArg() < 1 {
		pflag.Usage()
		os.Exit(1)
	}
	if err := run(pflag.Arg(0)); err != nil {
		log.Fatal().Err(err).Msg("lanalyze-vcd")
	}
}

func run(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	session, err := lac.Read(f)
	if err != nil {
		return err
	}

	var channels []uint16
	if *flagChannels != "" {
		for _, s := range strings.Split(*flagChannels, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("invalid channel number %q: %w", s, err)
			}
			channels = append(channels, uint16(n))
		}
	} else {
		for _, ch := range session.Channels {
			channels = append(channels, ch.Number)
		}
	}

	out := os.Stdout
	if *flagOutput != "" {
		f, err := os.Create(*flagOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	return lanalyzer.WriteVCD(out, session, channels)
}

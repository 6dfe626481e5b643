// Command lanalyze-decode runs a registered protocol decoder against a LAC
// capture and prints its annotations.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/hdlbus/lanalyzer"
	"github.com/hdlbus/lanalyzer/decoder/i2c"
	"github.com/hdlbus/lanalyzer/decoder/spi"
	"github.com/hdlbus/lanalyzer/decoder/uart"
	"github.com/hdlbus/lanalyzer/lac"
)

var (
	flagProtocol = pflag.StringP("protocol", "p", "", "Decoder ID: i2c, spi, or uart")
	flagMapping  = pflag.StringP("map", "m", "", "Channel mapping, e.g. scl=0,sda=1")
	flagOptions  = pflag.StringP("opt", "o", "", "Decoder options, e.g. address_format=shifted")
	flagVerbose  = pflag.BoolP("verbose", "v", false, "Verbose logging")
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: lanalyze-decode [OPTION]... FILE.lac")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	pflag.PrintDefaults()
}

func registry() *lanalyzer.Registry {
	r := lanalyzer.NewRegistry()
	r.Register("i2c", i2c.New)
	r.Register("spi", spi.New)
	r.Register("uart", uart.New)
	return r
}

func parseAssignments(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func main() {
	pflag.Usage = usage
	pflag.Parse()

	if *flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if pflag.NArg() < 1 || *flagProtocol == "" {
		pflag.Usage()
		os.Exit(1)
	}

	if err := run(pflag.Arg(0), *flagProtocol, *flagMapping, *flagOptions); err != nil {
		log.Fatal().Err(err).Msg("lanalyze-decode")
	}
}

func run(path, protocol, mappingStr, optionsStr string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	session, err := lac.Read(f)
	if err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return err
	}

	mapping := lanalyzer.ChannelMapping{}
	for role, v := range parseAssignments(mappingStr) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid channel number for role %q: %w", role, err)
		}
		mapping[role] = uint16(n)
	}
	options := lanalyzer.OptionBindings{}
	for k, v := range parseAssignments(optionsStr) {
		options[k] = v
	}

	reg := registry()
	cfg := lanalyzer.Config{
		SampleRateHz: session.SampleRateHz,
		Mapping:      mapping,
		Options:      options,
		Source:       lanalyzer.NewCaptureSampleSource(session),
	}
	result := reg.ExecuteDecoder(protocol, cfg)
	if result.Err != nil {
		return result.Err
	}
	for _, a := range result.Annotations {
		fmt.Printf("[%d-%d] %s: %s\n", a.StartSample, a.EndSample, a.Row, strings.Join(a.Values, " "))
	}
	return nil
}

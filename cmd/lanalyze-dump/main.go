// Command lanalyze-dump prints a LAC capture session's channel and trigger
// metadata, similar in spirit to go-metaflac's block listing for FLAC
// streams.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/hdlbus/lanalyzer/lac"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: lanalyze-dump FILE.lac...")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	pflag.PrintDefaults()
}

func main() {
	pflag.Usage = usage
	pflag.Parse()
	if pflag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	for _, path := range pflag.Args() {
		if err := dump(path); err != nil {
			log.Fatalln(err)
		}
	}
}

func dump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	session, err := lac.Read(f)
	if err != nil {
		return err
	}

	fmt.Printf("%s:\n", path)
	fmt.Printf("  name: %s\n", session.Name)
	fmt.Printf("  sample rate: %d Hz\n", session.SampleRateHz)
	fmt.Printf("  pre-trigger samples: %d\n", session.PreTrigger)
	fmt.Printf("  post-trigger samples: %d\n", session.PostTrigger)
	fmt.Printf("  trigger: channel %d, kind %d, value %d\n", session.Trigger.Channel, session.Trigger.Kind, session.Trigger.Value)
	fmt.Printf("  channels:\n")
	for _, ch := range session.Channels {
		fmt.Printf("    %d: %s (hidden=%v inverted=%v samples=%d)\n", ch.Number, ch.Name, ch.Hidden, ch.Inverted, ch.Len())
	}
	return nil
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func runCache(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errors.New("cache: expected purge or list")
	}
	action := args[0]

	fs := flag.NewFlagSet("cache "+action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "build cache directory (default: user cache dir)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	store, err := openCache(*dir)
	if err != nil {
		return err
	}
	p := message.NewPrinter(language.English)

	switch action {
	case "purge":
		n, err := store.Purge()
		if err != nil {
			return err
		}
		p.Fprintf(stdout, "Removed %d cache entries from %s\n", n, store.Dir())
		return nil
	case "list":
		entries, err := store.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(stdout, "No cache entries in %s\n", store.Dir())
			return nil
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tMODULE\tBACKEND\tARTIFACTS\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				e.Key.Short(), e.Module, e.Backend, len(e.Artifacts), e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		p.Fprintf(stdout, "%d entries\n", len(entries))
		return nil
	default:
		return fmt.Errorf("cache: unknown action %q (expected purge or list)", action)
	}
}

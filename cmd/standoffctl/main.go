// Command standoffctl inspects and pokes a running standoff controller over
// its HTTP API.
//
//	standoffctl [-addr URL] status
//	standoffctl [-addr URL] errors [since]
//	standoffctl [-addr URL] range <metres>
//	standoffctl [-addr URL] target <row> <col> <height> <width>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/standoff/internal/api"
	"github.com/banshee-data/standoff/internal/perception"
)

var (
	addr    = flag.String("addr", "http://localhost:8080", "Base URL of the controller's HTTP API")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, api.NewClient(nil, *addr), flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, c *api.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: standoffctl status | errors [since] | range <m> | target <row> <col> <height> <width>")
	}

	var (
		result interface{}
		err    error
	)
	switch args[0] {
	case "status":
		result, err = c.Status(ctx)
	case "errors":
		since := 0
		if len(args) > 1 {
			if since, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid since %q: %w", args[1], err)
			}
		}
		result, err = c.TrackingError(ctx, since)
	case "range":
		v, perr := parseFloats(args[1:], 1)
		if perr != nil {
			return perr
		}
		result, err = c.Inject(ctx, api.ObservationRequest{Range: &v[0]})
	case "target":
		v, perr := parseFloats(args[1:], 4)
		if perr != nil {
			return perr
		}
		result, err = c.Inject(ctx, api.ObservationRequest{
			Pixel: &perception.Pixel{Row: v[0], Col: v[1]},
			Size:  &perception.Size{Height: v[2], Width: v[3]},
		})
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d value(s), got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", a, err)
		}
		out[i] = v
	}
	return out, nil
}

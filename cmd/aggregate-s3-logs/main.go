// Command aggregate-s3-logs merges small S3 access log and CloudFront log
// objects into one archive per day.
package main

import (
	"fmt"
	"os"

	"github.com/messa/aggregate-s3-logs/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

package internal

import "fmt"

var (
	Version string
	Commit  string
)

func PrintableVersion() string {
	return fmt.Sprintf("verbatim %s (%s)", Version, Commit)
}

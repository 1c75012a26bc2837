// mediashift relocates seeded media to archive storage without losing links.
package main

import "github.com/mediashift/mediashift/cmd"

func main() {
	cmd.Execute()
}

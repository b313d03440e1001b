// cmd/msnpctl is a read-only operator CLI over the reference store's
// snapshot file: it never talks to a running server, only inspects what
// the reference Store adapter has persisted. Colorized list-membership
// output via fatih/color.
package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/frostbite2000/msnp-server/internal/store"
)

type snapshotView struct {
	Users    []store.User    `json:"users"`
	Contacts []store.Contact `json:"contacts"`
	SavedAt  string          `json:"savedAt"`
}

func loadSnapshot(path string) (*snapshotView, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v snapshotView
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "msnpctl"
	app.Usage = "inspect a msnpd reference-store snapshot"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "snapshot-path", EnvVar: "MSNP_SNAPSHOT_PATH", Required: true},
	}
	app.Commands = []cli.Command{
		{
			Name:   "users",
			Usage:  "list every known identity",
			Action: cmdUsers,
		},
		{
			Name:      "contacts",
			Usage:     "list an identity's contact rows",
			ArgsUsage: "<identity>",
			Action:    cmdContacts,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmdUsers(c *cli.Context) error {
	snap, err := loadSnapshot(c.GlobalString("snapshot-path"))
	if err != nil {
		return err
	}
	for _, u := range snap.Users {
		fmt.Printf("%s\t%s\n", u.Identity, u.DisplayName)
	}
	return nil
}

func cmdContacts(c *cli.Context) error {
	identity := c.Args().First()
	if identity == "" {
		return fmt.Errorf("usage: msnpctl contacts <identity>")
	}
	snap, err := loadSnapshot(c.GlobalString("snapshot-path"))
	if err != nil {
		return err
	}
	for _, contact := range snap.Contacts {
		if contact.Owner != identity {
			continue
		}
		printContact(contact)
	}
	return nil
}

func printContact(contact store.Contact) {
	var colorize func(format string, a ...interface{}) string
	switch contact.List {
	case store.ListForward:
		colorize = color.GreenString
	case store.ListAllow:
		colorize = color.CyanString
	case store.ListBlock:
		colorize = color.RedString
	case store.ListReverse:
		colorize = color.YellowString
	default:
		colorize = fmt.Sprintf
	}
	fmt.Println(colorize("%-5s %-30s %s", contact.List.String(), contact.Peer, contact.Nickname))
}

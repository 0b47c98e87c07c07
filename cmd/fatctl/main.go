// fatctl is a small command-line front end over package fat, for creating
// and inspecting FAT12/16/32 images from a shell. It is not the "interactive
// monitor/CLI shell" the driver spec calls an out-of-scope collaborator
// (that's an on-device firmware shell); fatctl is host-side tooling, grounded
// on the teacher's cmd/main.go (which stubbed a single "format" command with
// urfave/cli).
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tinyfat/fatfs/fat"
	"github.com/tinyfat/fatfs/internal/blockio"
	"github.com/urfave/cli/v2"
)

const defaultLUN = 0

func main() {
	app := cli.App{
		Name:  "fatctl",
		Usage: "create and inspect FAT12/16/32 disk images",
		Commands: []*cli.Command{
			formatCommand,
			lsCommand,
			catCommand,
			writeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatctl: %s", err)
	}
}

func openDeviceFile(path string, write bool) (*os.File, error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	return os.OpenFile(path, flag, 0)
}

var formatCommand = &cli.Command{
	Name:      "format",
	Usage:     "create or wipe a disk image",
	ArgsUsage: "IMAGE_FILE TOTAL_SECTORS",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "type", Usage: "fat12, fat16, fat32, or empty to auto-select"},
		&cli.StringFlag{Name: "label", Usage: "volume label"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: fatctl format IMAGE_FILE TOTAL_SECTORS", 1)
		}
		path := c.Args().Get(0)
		var totalSectors uint64
		if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &totalSectors); err != nil {
			return cli.Exit("TOTAL_SECTORS must be an integer", 1)
		}

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := f.Truncate(int64(totalSectors) * blockio.SectorSize); err != nil {
			return err
		}

		dev, err := blockio.NewSeekerDevice(f)
		if err != nil {
			return err
		}

		opts := fat.FormatOptions{VolumeLabel: c.String("label")}
		switch c.String("type") {
		case "fat12":
			opts.RequestedType = fat.FAT12
		case "fat16":
			opts.RequestedType = fat.FAT16
		case "fat32":
			opts.RequestedType = fat.FAT32
		}

		if err := fat.Format(dev, uint32(totalSectors), opts); err != nil {
			return err
		}
		fmt.Printf("formatted %s (%d sectors)\n", path, totalSectors)
		return nil
	},
}

func attachReadOnly(path string) (*fat.Manager, *os.File, error) {
	f, err := openDeviceFile(path, false)
	if err != nil {
		return nil, nil, err
	}
	dev, err := blockio.NewSeekerDevice(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	m := fat.NewManager(16, 4)
	if err := m.Attach(defaultLUN, dev); err != nil {
		f.Close()
		return nil, nil, err
	}
	return m, f, nil
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "list the contents of a directory",
	ArgsUsage: "IMAGE_FILE [PATH]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("usage: fatctl ls IMAGE_FILE [PATH]", 1)
		}
		path := "/"
		if c.NArg() > 1 {
			path = c.Args().Get(1)
		}

		m, f, err := attachReadOnly(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer f.Close()

		h, info, err := m.FindFirst(defaultLUN, path, "*")
		if err != nil {
			return err
		}
		defer m.CloseFind(h)

		for info != nil {
			kind := "-"
			if info.IsDir() {
				kind = "d"
			}
			fmt.Printf("%s %10d  %s\n", kind, info.Size, info.Name)
			info, err = m.FindNext(h)
			if err != nil {
				break
			}
		}
		return nil
	},
}

var catCommand = &cli.Command{
	Name:      "cat",
	Usage:     "print a file's contents to stdout",
	ArgsUsage: "IMAGE_FILE PATH",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: fatctl cat IMAGE_FILE PATH", 1)
		}
		m, f, err := attachReadOnly(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer f.Close()

		h, err := m.Open(defaultLUN, c.Args().Get(1), fat.IOFlagRead)
		if err != nil {
			return err
		}
		defer m.Close(h)

		buf := make([]byte, 4096)
		for {
			n, err := m.Read(h, buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		return nil
	},
}

var writeCommand = &cli.Command{
	Name:      "write",
	Usage:     "create a file from stdin",
	ArgsUsage: "IMAGE_FILE PATH",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: fatctl write IMAGE_FILE PATH", 1)
		}
		f, err := openDeviceFile(c.Args().Get(0), true)
		if err != nil {
			return err
		}
		defer f.Close()
		dev, err := blockio.NewSeekerDevice(f)
		if err != nil {
			return err
		}
		m := fat.NewManager(16, 4)
		if err := m.Attach(defaultLUN, dev); err != nil {
			return err
		}

		h, err := m.Create(defaultLUN, c.Args().Get(1))
		if err != nil {
			return err
		}

		buf := make([]byte, 4096)
		for {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 {
				if _, werr := m.Write(h, buf[:n]); werr != nil {
					m.Close(h)
					return werr
				}
			}
			if rerr != nil {
				break
			}
		}
		return m.Close(h)
	},
}

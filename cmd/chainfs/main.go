package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/keks/chainfs/blkdev"
	"github.com/keks/chainfs/blkfile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:        appName,
		Usage:       "manage files on a chainfs block image",
		Description: "a command line interface to a flat file system stored in a single image file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "path of the block image",
			},
			&cli.UintFlag{
				Name:  "block-count",
				Usage: "number of blocks on the device",
			},
			&cli.IntFlag{
				Name:  "block-size",
				Usage: "size of a block in bytes",
			},
			&cli.UintFlag{
				Name:  "table-blocks",
				Usage: "blocks reserved for the file table when formatting",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "one of panic, fatal, error, warn, info, debug or trace",
			},
		},
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"mkfs"},
			Description: "zero-fill the device and write an empty file system",
			Action: func(ctx *cli.Context) error {
				c, err := configFromContext(ctx)
				if err != nil {
					return err
				}
				logger := c.Logger(ctx.App.ErrWriter)
				return blkfile.Format(
					blkdev.New(c.Device, c.Geometry()),
					c.Options(logger),
				)
			},
		}, {
			Name:        "info",
			Description: "show the volume layout and usage",
			Action: withFS(0, func(fs *blkfile.FS, ctx *cli.Context) error {
				info, err := fs.Info()
				if err != nil {
					return err
				}
				w := ctx.App.Writer
				fmt.Fprintf(w, "volume:      %s\n", info.VolumeID)
				fmt.Fprintf(w, "block size:  %d\n", info.BlockSize)
				fmt.Fprintf(w, "blocks:      %d\n", info.BlockCount)
				fmt.Fprintf(w, "table:       %d-%d\n", info.TableStart, info.DataStart-1)
				fmt.Fprintf(w, "files:       %d/%d\n", info.Files, info.MaxFiles)
				fmt.Fprintf(w, "free blocks: %d/%d\n", info.FreeBlocks, info.BlockCount-uint32(info.DataStart))
				return nil
			}),
		}, {
			Name:        "ls",
			Aliases:     []string{"list"},
			Description: "list files with their sizes",
			Action: withFS(0, func(fs *blkfile.FS, ctx *cli.Context) error {
				for _, info := range fs.List() {
					if _, err := fmt.Fprintf(ctx.App.Writer, "%10d %s\n", info.Size, info.Name); err != nil {
						return fmt.Errorf("writing listing: %w", err)
					}
				}
				return nil
			}),
		}, {
			Name:        "put",
			ArgsUsage:   "NAME [SRC]",
			Description: "replace the contents of NAME with SRC or stdin, creating it if needed",
			Action: withFS(1, func(fs *blkfile.FS, ctx *cli.Context) error {
				name := ctx.Args().Get(0)

				src := ctx.App.Reader
				if path := ctx.Args().Get(1); path != "" {
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("opening source: %w", err)
					}
					defer f.Close()
					src = f
				}

				if _, err := fs.Stat(name); err != nil {
					if err := fs.Create(name); err != nil {
						return err
					}
				}
				f, err := fs.OpenFile(name)
				if err != nil {
					return err
				}
				defer f.Close()

				if err := f.Truncate(0); err != nil {
					return err
				}
				if _, err := io.Copy(f, src); err != nil {
					return fmt.Errorf("copying into `%s`: %w", name, err)
				}
				return nil
			}),
		}, {
			Name:        "cat",
			ArgsUsage:   "NAME",
			Description: "write the contents of NAME to stdout",
			Action: withFS(1, func(fs *blkfile.FS, ctx *cli.Context) error {
				f, err := fs.OpenFile(ctx.Args().First())
				if err != nil {
					return err
				}
				defer f.Close()

				if _, err := io.Copy(ctx.App.Writer, f); err != nil {
					return fmt.Errorf("copying out of `%s`: %w", f.Name(), err)
				}
				return nil
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"delete"},
			ArgsUsage:   "NAME",
			Description: "delete a file and free its blocks",
			Action: withFS(1, func(fs *blkfile.FS, ctx *cli.Context) error {
				return fs.Delete(ctx.Args().First())
			}),
		}, {
			Name:        "truncate",
			ArgsUsage:   "NAME LENGTH",
			Description: "cut NAME down to or extend it with zeros to LENGTH bytes",
			Action: withFS(2, func(fs *blkfile.FS, ctx *cli.Context) error {
				length, err := strconv.ParseInt(ctx.Args().Get(1), 10, 64)
				if err != nil {
					return fmt.Errorf("parsing length: %w", err)
				}

				f, err := fs.OpenFile(ctx.Args().First())
				if err != nil {
					return err
				}
				defer f.Close()
				return f.Truncate(length)
			}),
		}, {
			Name:        "mv",
			Aliases:     []string{"rename"},
			ArgsUsage:   "OLD NEW",
			Description: "rename a file",
			Action: withFS(2, func(fs *blkfile.FS, ctx *cli.Context) error {
				return fs.Rename(ctx.Args().Get(0), ctx.Args().Get(1))
			}),
		}},
	}
}

// configFromContext loads the configuration and applies the global flags
// on top of it.
func configFromContext(ctx *cli.Context) (*Config, error) {
	c, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if ctx.IsSet("device") {
		c.Device = ctx.String("device")
	}
	if ctx.IsSet("block-count") {
		c.BlockCount = uint32(ctx.Uint("block-count"))
	}
	if ctx.IsSet("block-size") {
		c.BlockSize = ctx.Int("block-size")
	}
	if ctx.IsSet("table-blocks") {
		c.TableBlocks = uint32(ctx.Uint("table-blocks"))
	}
	if ctx.IsSet("log-level") {
		if err := c.LogLevel.Decode(ctx.String("log-level")); err != nil {
			return nil, fmt.Errorf("parsing --log-level: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// withFS mounts the configured device around f. minArgs is the number of
// positional arguments the command needs.
func withFS(minArgs int, f func(*blkfile.FS, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if ctx.NArg() < minArgs {
			return fmt.Errorf(
				"usage: %s %s %s",
				appName,
				ctx.Command.Name,
				ctx.Command.ArgsUsage,
			)
		}

		c, err := configFromContext(ctx)
		if err != nil {
			return err
		}

		logger := c.Logger(ctx.App.ErrWriter)
		fs, err := blkfile.Mount(blkdev.New(c.Device, c.Geometry()), c.Options(logger))
		if err != nil {
			return fmt.Errorf("opening `%s`: %w", c.Device, err)
		}

		return unmountAfter(fs, f(fs, ctx))
	}
}

type unmounter interface {
	Unmount() error
}

// unmountAfter unmounts fs even when the action failed, so partial changes
// are written back, and reports both errors.
func unmountAfter(fs unmounter, err error) error {
	return errors.Join(err, fs.Unmount())
}

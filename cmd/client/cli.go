package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pyropy/dbs/core/client"
	"github.com/urfave/cli/v2"
)

func newClient(ctx *cli.Context) (*client.Client, error) {
	return client.NewClient(ctx.String("rpc-url"))
}

var backupCmd = &cli.Command{
	Name:  "backup",
	Usage: "Back up a file with the given replication degree",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file-path",
			Required: true,
			Usage:    "Path to the file you want to back up",
		},
		&cli.IntFlag{
			Name:    "replication",
			Aliases: []string{"r"},
			Value:   1,
			Usage:   "Number of peers that should store every chunk",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Backup(ctx.String("file-path"), ctx.Int("replication"))
		if err != nil {
			return err
		}

		log.Infow("backup", "file", reply.FileID, "chunks", len(reply.Chunks), "degraded", reply.Degraded)

		for _, chunk := range reply.Chunks {
			if chunk.Degraded {
				log.Warnw("backup", "chunk", chunk.ChunkNo, "replication", chunk.Replication, "attempts", chunk.Attempts)
			}
		}

		return nil
	},
}

var restoreCmd = &cli.Command{
	Name:  "restore",
	Usage: "Restore a backed up file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file-path",
			Required: true,
			Usage:    "Path of the file as it was backed up",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Where to write the restored file, defaults to the original path",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Restore(ctx.String("file-path"), ctx.String("out"))
		if err != nil {
			return err
		}

		log.Infow("restore", "file", reply.FileID, "output", reply.OutputPath, "size", reply.Size, "chunks", reply.Chunks)
		return nil
	},
}

var deleteCmd = &cli.Command{
	Name:  "delete",
	Usage: "Delete every copy of a backed up file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file-path",
			Required: true,
			Usage:    "Path of the file as it was backed up",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Delete(ctx.String("file-path")); err != nil {
			return err
		}

		log.Infow("delete", "file-path", ctx.String("file-path"))
		return nil
	},
}

var reclaimCmd = &cli.Command{
	Name:  "reclaim",
	Usage: "Free local storage held for other peers",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:     "kb",
			Required: true,
			Usage:    "Kilobytes to free",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Reclaim(ctx.Int64("kb"))
		if err != nil {
			return err
		}

		log.Infow("reclaim", "freed", reply.FreedBytes, "chunks", reply.Chunks)
		return nil
	},
}

var stateCmd = &cli.Command{
	Name:  "state",
	Usage: "Show backed up files and stored chunks",
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		state, err := c.State()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintf(w, "peer\t%s\n", state.PeerID)
		fmt.Fprintf(w, "storage\t%d / %d bytes\n\n", state.UsedBytes, state.CapacityBytes)

		fmt.Fprintln(w, "PATH\tFILE ID\tSIZE\tDESIRED\tCHUNKS")
		for _, f := range state.Files {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", f.Path, f.FileID, f.Size, f.ReplicationDegree, f.Chunks)
		}

		fmt.Fprintln(w, "\nCHUNK\tSIZE\tDESIRED\tCURRENT")
		for _, chunk := range state.Chunks {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", chunk.ID, chunk.Size, chunk.ReplicationDegree, chunk.CurrentReplication)
		}

		return nil
	},
}

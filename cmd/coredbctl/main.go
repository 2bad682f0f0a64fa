// Command coredbctl is a small CLI over the storage core: it opens a
// single-file database, loads or creates a named B+Tree index inside it,
// and exposes insert/find/delete/load/dump operations for poking at the
// buffer pool and index from a shell.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coredb/buffer"
	"coredb/common"
	"coredb/disk"
	"coredb/index/btree"
	"coredb/pkg/logger"
	"coredb/pkg/metrics"
)

const (
	defaultPoolSize   = 64
	defaultLeafMax    = 64
	defaultInternalMax = 64
)

var (
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "coredbctl",
	Short: "Inspect and drive a coredb storage file from the command line",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "coredb.db", "path to the database file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(insertCmd, findCmd, deleteCmd, loadFileCmd, dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session bundles everything a command needs against one database file:
// the disk manager, the buffer pool and the header page; tree opens a named
// index over them.
// Each invocation gets a fresh session tagged with a random request id, the
// way a server would tag a request for correlated logging.
type session struct {
	log    *zap.Logger
	dm     *disk.Manager
	bpm    *buffer.BufferPoolManager
	header *disk.HeaderPage
}

func openSession(indexFlagValue string) *session {
	l, err := logger.New(logger.Config{Level: logLevel})
	if err != nil {
		log.Fatalf("coredbctl: build logger: %v", err)
	}
	reqID := uuid.NewString()
	l = l.With(zap.String("request_id", reqID))

	dm, fresh, err := disk.NewDiskManager(dbPath)
	if err != nil {
		l.Fatal("open database file", zap.String("path", dbPath), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	bpm := buffer.NewBufferPoolManager(defaultPoolSize, dm,
		buffer.WithLogger(l),
		buffer.WithMetrics(metrics.NewBufferPool(reg)),
	)

	header := disk.NewHeaderPage()
	if fresh {
		buf := make([]byte, common.PageSize)
		header.Serialize(buf)
		if err := dm.WritePage(common.HeaderPageID, buf); err != nil {
			l.Fatal("format header page", zap.Error(err))
		}
	} else {
		buf := make([]byte, common.PageSize)
		if err := dm.ReadPage(common.HeaderPageID, buf); err != nil {
			l.Fatal("read header page", zap.Error(err))
		}
		header = disk.Deserialize(buf)
	}

	return &session{log: l, dm: dm, bpm: bpm, header: header}
}

// tree opens (or lazily prepares) the named index over this session.
func (s *session) tree(name string) *btree.BTree {
	return btree.New(name, s.bpm, s.header, defaultLeafMax, defaultInternalMax, btree.WithLogger(s.log))
}

func (s *session) close() {
	if err := s.bpm.FlushAllPages(); err != nil {
		s.log.Error("flush all pages on close", zap.Error(err))
	}
	buf := make([]byte, common.PageSize)
	s.header.Serialize(buf)
	if err := s.dm.WritePage(common.HeaderPageID, buf); err != nil {
		s.log.Error("write header page on close", zap.Error(err))
	}
	if err := s.dm.Close(); err != nil {
		s.log.Error("close database file", zap.Error(err))
	}
}

var insertCmd = &cobra.Command{
	Use:   "insert [index] [key] [page_id] [slot]",
	Short: "Insert a key -> record-id mapping into a named index",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatalf("coredbctl: bad key %q: %v", args[1], err)
		}
		pageID, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			log.Fatalf("coredbctl: bad page id %q: %v", args[2], err)
		}
		slot, err := strconv.ParseUint(args[3], 10, 32)
		if err != nil {
			log.Fatalf("coredbctl: bad slot %q: %v", args[3], err)
		}

		s := openSession(args[0])
		defer s.close()
		t := s.tree(args[0])
		if !t.Insert(key, btree.RID{PageID: pageID, SlotNum: uint32(slot)}) {
			fmt.Printf("key %d already exists\n", key)
			return
		}
		fmt.Printf("inserted %d -> (%d, %d)\n", key, pageID, slot)
	},
}

var findCmd = &cobra.Command{
	Use:   "find [index] [key]",
	Short: "Look up a key in a named index",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatalf("coredbctl: bad key %q: %v", args[1], err)
		}

		s := openSession(args[0])
		defer s.close()
		t := s.tree(args[0])
		rid, ok := t.GetValue(key)
		if !ok {
			fmt.Printf("key %d not found\n", key)
			return
		}
		fmt.Printf("%d -> (%d, %d)\n", key, rid.PageID, rid.SlotNum)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [index] [key]",
	Short: "Delete a key from a named index",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatalf("coredbctl: bad key %q: %v", args[1], err)
		}

		s := openSession(args[0])
		defer s.close()
		t := s.tree(args[0])
		t.Remove(key)
		fmt.Printf("removed %d (no-op if absent)\n", key)
	},
}

var loadFileCmd = &cobra.Command{
	Use:   "load [index] [path]",
	Short: "Bulk-insert key/page_id/slot triples from a text file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession(args[0])
		defer s.close()
		t := s.tree(args[0])
		if err := t.InsertFromFile(args[1]); err != nil {
			log.Fatalf("coredbctl: load %s: %v", args[1], err)
		}
		fmt.Printf("loaded %s into index %q\n", args[1], args[0])
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump [index]",
	Short: "Print every key in a named index in ascending order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession(args[0])
		defer s.close()
		t := s.tree(args[0])

		if t.IsEmpty() {
			return
		}
		it := t.Begin()
		defer it.Close()
		for it.Valid() {
			rid := it.Value()
			fmt.Printf("%d\t%d\t%d\n", it.Key(), rid.PageID, rid.SlotNum)
			it.Next()
		}
	},
}

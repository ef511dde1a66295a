// Command rrdcached runs the write-coalescing RRD cache as a
// standalone daemon: it accepts samples over a line-oriented TCP
// protocol modeled on collectd's write_rrd plugin, batches them in
// memory, and flushes to disk through the write-coalescing cache.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/neehar-mavuduru/rrd-write-cache/archive"
	"github.com/neehar-mavuduru/rrd-write-cache/internal/rlog"
	"github.com/neehar-mavuduru/rrd-write-cache/internal/rrdfile"
	"github.com/neehar-mavuduru/rrd-write-cache/rrdcache"
)

func main() {
	var (
		listenAddr    = flag.String("listen", "127.0.0.1:42217", "address to listen for PUTVAL-style commands on")
		dataDir       = flag.String("data-dir", "/var/lib/rrdcached", "root directory for .rrd files")
		cacheTimeout  = flag.Int64("cache-timeout", 10, "seconds a value may sit in cache before being queued")
		cacheFlush    = flag.Int64("cache-flush", 100, "seconds of idleness before an empty entry is garbage collected")
		randomTimeout = flag.Int64("random-timeout", 0, "jitter, in seconds, added to the periodic sweep interval")
		stepSize      = flag.Int64("step", 10, "default RRA step size in seconds for newly created files")
		heartBeat     = flag.Int64("heartbeat", 20, "default heartbeat in seconds for newly created files")
		rraRows       = flag.Int("rows", 1200, "default number of rows per round-robin archive")
		gcsBucket     = flag.String("gcs-bucket", "", "GCS bucket to archive garbage-collected .rrd files to (empty disables archival)")
		gcsPrefix     = flag.String("gcs-prefix", "", "GCS object prefix for archived files")
	)
	flag.Parse()

	config := rrdcache.DefaultConfig(*dataDir)
	config.CacheTimeout = *cacheTimeout
	config.CacheFlush = *cacheFlush
	config.RandomTimeout = *randomTimeout
	config.StepSize = *stepSize
	config.HeartBeat = *heartBeat
	config.RRARows = *rraRows

	core, err := rrdcache.Open(config, rrdfile.NewStore(), nil)
	if err != nil {
		rlog.Errorf("failed to start cache: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *gcsBucket != "" {
		uploaderConfig := archive.DefaultConfig(*gcsBucket)
		uploaderConfig.ObjectPrefix = *gcsPrefix

		uploader, err := archive.NewUploader(ctx, uploaderConfig)
		if err != nil {
			rlog.Errorf("failed to start archive uploader: %v", err)
			os.Exit(1)
		}
		uploader.Start()
		defer uploader.Stop()

		core.SetArchiver(uploader.Enqueue)
		rlog.Infof("archiving garbage-collected files to gs://%s/%s", *gcsBucket, *gcsPrefix)
	}

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		rlog.Errorf("failed to listen on %s: %v", *listenAddr, err)
		os.Exit(1)
	}
	rlog.Infof("rrdcached listening on %s, data dir %s", *listenAddr, *dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go acceptLoop(listener, core)

	<-sigCh
	rlog.Infof("shutting down")
	listener.Close()
	core.Shutdown()
	stats := core.Stats()
	rlog.Infof("final stats: %d batches written, %d tokens, %d write errors", stats.BatchesWritten, stats.TokensWritten, stats.WriteErrors)
}

func acceptLoop(listener net.Listener, core *rrdcache.Core) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go handleConn(conn, core)
	}
}

// handleConn implements a minimal PUTVAL-style line protocol:
//
//	PUTVAL host/plugin[-instance]/type[-instance] interval=N epoch:v[:v...]
//	FLUSH [identifier]
//
// It exists to exercise Core end-to-end over the wire; a production
// deployment would speak collectd's actual network protocol instead.
func handleConn(conn net.Conn, core *rrdcache.Core) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply := dispatchLine(core, line)
		fmt.Fprintln(conn, reply)
	}
}

func dispatchLine(core *rrdcache.Core, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "-1 empty command"
	}

	switch strings.ToUpper(fields[0]) {
	case "FLUSH":
		identifier := ""
		if len(fields) > 1 {
			identifier = fields[1]
		}
		if err := core.Flush(0, identifier); err != nil {
			return fmt.Sprintf("-1 %v", err)
		}
		return "0 Flush started"

	case "PUTVAL":
		sample, schema, err := parsePutval(fields)
		if err != nil {
			return fmt.Sprintf("-1 %v", err)
		}
		if err := core.Write(schema, sample); err != nil {
			return fmt.Sprintf("-1 %v", err)
		}
		return "0 success"

	default:
		return fmt.Sprintf("-1 unknown command %q", fields[0])
	}
}

// parsePutval decodes "PUTVAL host/plugin/type interval=N epoch:v1:v2"
// into a Sample and an inferred TypeSchema with one gauge data source
// per value. A real
// deployment would resolve the schema from a types.db instead of
// inferring it from the wire values.
func parsePutval(fields []string) (rrdcache.Sample, rrdcache.TypeSchema, error) {
	if len(fields) < 3 {
		return rrdcache.Sample{}, rrdcache.TypeSchema{}, fmt.Errorf("PUTVAL requires identifier and value fields")
	}

	identifier := fields[1]
	parts := strings.SplitN(identifier, "/", 3)
	if len(parts) != 3 {
		return rrdcache.Sample{}, rrdcache.TypeSchema{}, fmt.Errorf("malformed identifier %q", identifier)
	}

	valueField := fields[len(fields)-1]
	valueParts := strings.Split(valueField, ":")
	if len(valueParts) < 2 {
		return rrdcache.Sample{}, rrdcache.TypeSchema{}, fmt.Errorf("malformed value field %q", valueField)
	}

	epoch, err := strconv.ParseInt(valueParts[0], 10, 64)
	if err != nil {
		return rrdcache.Sample{}, rrdcache.TypeSchema{}, fmt.Errorf("bad epoch %q: %w", valueParts[0], err)
	}

	ds := make([]rrdcache.DataSource, 0, len(valueParts)-1)
	values := make([]rrdcache.Value, 0, len(valueParts)-1)
	for i, raw := range valueParts[1:] {
		name := "value"
		if len(valueParts) > 2 {
			name = fmt.Sprintf("value%d", i)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return rrdcache.Sample{}, rrdcache.TypeSchema{}, fmt.Errorf("bad value %q: %w", raw, err)
		}
		ds = append(ds, rrdcache.DataSource{Name: name, Kind: rrdcache.Gauge})
		values = append(values, rrdcache.Value{Kind: rrdcache.Gauge, F64: f})
	}

	host, plugin, typ := parts[0], parts[1], parts[2]
	pluginName, pluginInstance := splitInstance(plugin)
	typeName, typeInstance := splitInstance(typ)

	sample := rrdcache.Sample{
		Time:           epoch,
		Host:           host,
		Plugin:         pluginName,
		PluginInstance: pluginInstance,
		Type:           typeName,
		TypeInstance:   typeInstance,
		Values:         values,
	}
	schema := rrdcache.TypeSchema{Name: typeName, DS: ds}

	return sample, schema, nil
}

func splitInstance(field string) (name, instance string) {
	name, instance, found := strings.Cut(field, "-")
	if !found {
		return field, ""
	}
	return name, instance
}

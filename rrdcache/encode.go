package rrdcache

import (
	"fmt"
	"strconv"
	"strings"
)

// maxEncodedLen bounds both the filename and the update token, matching
// the 512-byte buffers used throughout the surrounding ecosystem
// (collectd's own FORMAT_VL/FORMAT_FILENAME limit).
const maxEncodedLen = 512

// EncodeFilename derives the canonical on-disk path for a sample:
//
//	{dataDir/}host/plugin{-plugin_instance}/type{-type_instance}.rrd
//
// Empty PluginInstance/TypeInstance suppress the "-instance" suffix
// entirely. dataDir's trailing slashes are the caller's (Config's)
// responsibility to have already stripped; EncodeFilename just joins.
func EncodeFilename(dataDir string, s Sample) (string, error) {
	plugin := s.Plugin
	if s.PluginInstance != "" {
		plugin = plugin + "-" + s.PluginInstance
	}

	typ := s.Type
	if s.TypeInstance != "" {
		typ = typ + "-" + s.TypeInstance
	}

	var b strings.Builder
	if dataDir != "" {
		b.WriteString(dataDir)
		b.WriteByte('/')
	}
	b.WriteString(s.Host)
	b.WriteByte('/')
	b.WriteString(plugin)
	b.WriteByte('/')
	b.WriteString(typ)
	b.WriteString(".rrd")

	out := b.String()
	if len(out) > maxEncodedLen {
		return "", fmt.Errorf("%w: filename %d bytes exceeds %d", ErrEncodeOverflow, len(out), maxEncodedLen)
	}
	return out, nil
}

// EncodeUpdate renders the sample as the colon-separated update token
// "{unix_seconds}:{v0}:{v1}:..." the RRD library consumes verbatim.
// Counters render as unsigned decimal, gauges in Go's default ('g')
// floating point form. EncodeUpdate fails closed: any value kind other
// than Counter/Gauge, or any type-name mismatch against schema, is
// rejected rather than silently coerced.
func EncodeUpdate(schema TypeSchema, s Sample) (string, error) {
	if schema.Name != s.Type {
		return "", fmt.Errorf("%w: sample type %q, schema %q", ErrSchemaMismatch, s.Type, schema.Name)
	}
	if len(s.Values) != len(schema.DS) {
		return "", fmt.Errorf("%w: sample has %d values, schema wants %d", ErrSchemaMismatch, len(s.Values), len(schema.DS))
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(s.Time, 10))

	for i, v := range s.Values {
		want := schema.DS[i].Kind
		if v.Kind != want {
			return "", fmt.Errorf("%w: value %d is kind %d, schema wants %d", ErrSchemaMismatch, i, v.Kind, want)
		}

		b.WriteByte(':')
		switch v.Kind {
		case Counter:
			b.WriteString(strconv.FormatUint(v.U64, 10))
		case Gauge:
			b.WriteString(strconv.FormatFloat(v.F64, 'g', -1, 64))
		default:
			return "", fmt.Errorf("%w: kind %d", ErrUnsupportedType, v.Kind)
		}
	}

	out := b.String()
	if len(out) > maxEncodedLen {
		return "", fmt.Errorf("%w: update token %d bytes exceeds %d", ErrEncodeOverflow, len(out), maxEncodedLen)
	}
	return out, nil
}

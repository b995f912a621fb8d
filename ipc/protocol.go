// Package ipc is the compositor's control socket. Requests and
// responses are protobuf messages, each preceded by its length as a
// big-endian uint32.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"deedles.dev/wlcomp/stats"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// SocketEnv is set in the environment of the compositor's children to
// the path of its control socket.
const SocketEnv = "WLCOMP_IPC"

// maxMessageSize bounds the length prefix so that a bad peer can't
// make the other side allocate arbitrarily much.
const maxMessageSize = 1 << 20

var ErrMessageSize = errors.New("message too large")

type RequestType int32

const (
	RequestOutputs RequestType = 1
	RequestStats   RequestType = 2
)

func (t RequestType) String() string {
	if v := schema.requestType.Values().ByNumber(protoreflect.EnumNumber(t)); v != nil {
		return string(v.Name())
	}
	return fmt.Sprintf("RequestType(%d)", int32(t))
}

// Request is sent by clients.
type Request struct {
	Type RequestType
}

// OutputResponse lists the current outputs.
type OutputResponse struct {
	Outputs []stats.Output
}

// StatsResponse is a complete statistics snapshot.
type StatsResponse struct {
	Snapshot stats.Snapshot
}

// Response is sent in reply to every Request. Exactly one of Error,
// Outputs and Stats is set.
type Response struct {
	Error   string
	Outputs *OutputResponse
	Stats   *StatsResponse
}

func (req Request) message() proto.Message {
	m := dynamicpb.NewMessage(schema.request)
	set(m, "type", protoreflect.ValueOfEnum(protoreflect.EnumNumber(req.Type)))
	return m
}

func requestFrom(m protoreflect.Message) Request {
	return Request{Type: RequestType(get(m, "type").Enum())}
}

func (resp Response) message() proto.Message {
	m := dynamicpb.NewMessage(schema.response)
	if resp.Error != "" {
		set(m, "error", protoreflect.ValueOfString(resp.Error))
	}
	if resp.Outputs != nil {
		appendOutputs(mutable(m, "outputs"), "outputs", resp.Outputs.Outputs)
	}
	if resp.Stats != nil {
		sr := mutable(m, "stats")
		fromSnapshot(mutable(sr, "snapshot"), resp.Stats.Snapshot)
	}
	return m
}

func responseFrom(m protoreflect.Message) Response {
	resp := Response{Error: get(m, "error").String()}
	if has(m, "outputs") {
		resp.Outputs = &OutputResponse{Outputs: outputsFrom(get(m, "outputs").Message(), "outputs")}
	}
	if has(m, "stats") {
		resp.Stats = &StatsResponse{Snapshot: snapshotFrom(get(get(m, "stats").Message(), "snapshot").Message())}
	}
	return resp
}

func fromSnapshot(m protoreflect.Message, s stats.Snapshot) {
	set(m, "uptime_ns", protoreflect.ValueOfInt64(int64(s.Uptime)))
	set(m, "clients", protoreflect.ValueOfInt32(int32(s.Clients)))
	set(m, "surfaces", protoreflect.ValueOfInt32(int32(s.Surfaces)))
	set(m, "buffers", protoreflect.ValueOfInt32(int32(s.Buffers)))
	appendOutputs(m, "outputs", s.Outputs)
}

func snapshotFrom(m protoreflect.Message) stats.Snapshot {
	return stats.Snapshot{
		Uptime:   time.Duration(get(m, "uptime_ns").Int()),
		Clients:  int(get(m, "clients").Int()),
		Surfaces: int(get(m, "surfaces").Int()),
		Buffers:  int(get(m, "buffers").Int()),
		Outputs:  outputsFrom(m, "outputs"),
	}
}

func appendOutputs(m protoreflect.Message, name string, outputs []stats.Output) {
	l := list(m, name)
	for _, o := range outputs {
		e := l.NewElement()
		fromOutput(e.Message(), o)
		l.Append(e)
	}
}

func outputsFrom(m protoreflect.Message, name string) []stats.Output {
	l := get(m, name).List()
	var outputs []stats.Output
	for i := range l.Len() {
		outputs = append(outputs, outputFrom(l.Get(i).Message()))
	}
	return outputs
}

func fromOutput(m protoreflect.Message, o stats.Output) {
	set(m, "id", protoreflect.ValueOfUint64(o.ID))
	set(m, "name", protoreflect.ValueOfString(o.Name))
	set(m, "make", protoreflect.ValueOfString(o.Make))
	set(m, "model", protoreflect.ValueOfString(o.Model))
	set(m, "width", protoreflect.ValueOfInt32(int32(o.Width)))
	set(m, "height", protoreflect.ValueOfInt32(int32(o.Height)))
	set(m, "refresh_mhz", protoreflect.ValueOfInt32(int32(o.Refresh)))
	set(m, "x", protoreflect.ValueOfInt32(int32(o.X)))
	set(m, "y", protoreflect.ValueOfInt32(int32(o.Y)))
	set(m, "scale", protoreflect.ValueOfInt32(int32(o.Scale)))
	set(m, "transform", protoreflect.ValueOfString(o.Transform))
	set(m, "state", protoreflect.ValueOfString(o.State))

	c := mutable(m, "counters")
	set(c, "presented", protoreflect.ValueOfUint64(o.Counters.Presented))
	set(c, "dropped", protoreflect.ValueOfUint64(o.Counters.Dropped))
	set(c, "skipped", protoreflect.ValueOfUint64(o.Counters.Skipped))
	set(c, "damage_area", protoreflect.ValueOfUint64(o.Counters.DamageArea))
	set(c, "last_latency_ns", protoreflect.ValueOfInt64(int64(o.Counters.Last)))
	set(c, "avg_latency_ns", protoreflect.ValueOfInt64(int64(o.Counters.Avg)))
}

func outputFrom(m protoreflect.Message) stats.Output {
	c := get(m, "counters").Message()
	return stats.Output{
		ID:        get(m, "id").Uint(),
		Name:      get(m, "name").String(),
		Make:      get(m, "make").String(),
		Model:     get(m, "model").String(),
		Width:     int(get(m, "width").Int()),
		Height:    int(get(m, "height").Int()),
		Refresh:   int(get(m, "refresh_mhz").Int()),
		X:         int(get(m, "x").Int()),
		Y:         int(get(m, "y").Int()),
		Scale:     int(get(m, "scale").Int()),
		Transform: get(m, "transform").String(),
		State:     get(m, "state").String(),
		Counters: stats.Counters{
			Presented:  get(c, "presented").Uint(),
			Dropped:    get(c, "dropped").Uint(),
			Skipped:    get(c, "skipped").Uint(),
			DamageArea: get(c, "damage_area").Uint(),
			Last:       time.Duration(get(c, "last_latency_ns").Int()),
			Avg:        time.Duration(get(c, "avg_latency_ns").Int()),
		},
	}
}

func fieldOf(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(protoreflect.Name(name))
}

func get(m protoreflect.Message, name string) protoreflect.Value {
	return m.Get(fieldOf(m, name))
}

func set(m protoreflect.Message, name string, v protoreflect.Value) {
	m.Set(fieldOf(m, name), v)
}

func has(m protoreflect.Message, name string) bool {
	return m.Has(fieldOf(m, name))
}

func mutable(m protoreflect.Message, name string) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).Message()
}

func list(m protoreflect.Message, name string) protoreflect.List {
	return m.Mutable(fieldOf(m, name)).List()
}

// SocketPath returns the control socket path for the Wayland display
// named display.
func SocketPath(display string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, display+".ipc")
}

func readMessage(r io.Reader, m proto.Message) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read message length: %w", err)
	}
	if length > maxMessageSize {
		return fmt.Errorf("length %v: %w", length, ErrMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read message data: %w", err)
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}

func writeMessage(w io.Writer, m proto.Message) error {
	data, err := proto.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("length %v: %w", len(data), ErrMessageSize)
	}

	buf := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(data)), uint32(len(data)))
	if _, err := w.Write(append(buf, data...)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

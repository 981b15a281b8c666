package client

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/pbio"
	"github.com/born-ml/serve/internal/servable"
	"github.com/born-ml/serve/internal/server"
)

const adderConfig = `
model {
  file   = "model.onnx"
  format = onnx
}

method "add" {
  inputs  = { x = "x" }
  outputs = { "y" = "sum" }
}
`

func float32LE(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func adderModelBytes(bias []float32) []byte {
	w := pbio.NewWriter()
	w.WriteVarint(1, 8)
	w.WriteMessage(8, func(w *pbio.Writer) {
		w.WriteVarint(2, 13)
	})
	w.WriteMessage(7, func(w *pbio.Writer) {
		w.WriteMessage(1, func(w *pbio.Writer) {
			w.WriteString(1, "x")
			w.WriteString(1, "bias")
			w.WriteString(2, "y")
			w.WriteString(4, "Add")
		})
		w.WriteMessage(5, func(w *pbio.Writer) {
			w.WriteVarint(1, int64(len(bias)))
			w.WriteVarint(2, 1)
			w.WriteString(8, "bias")
			w.WriteBytes(9, float32LE(bias...))
		})
		w.WriteMessage(11, func(w *pbio.Writer) {
			w.WriteString(1, "x")
		})
		w.WriteMessage(11, func(w *pbio.Writer) {
			w.WriteString(1, "bias")
		})
		w.WriteMessage(12, func(w *pbio.Writer) {
			w.WriteString(1, "y")
		})
	})
	return w.Bytes()
}

// startServer runs a real gRPC server over one "adder" servable and
// returns a connected client.
func startServer(t *testing.T) *Client {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "adder")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, servable.ConfigFileName), []byte(adderConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1", "model.onnx"), adderModelBytes([]float32{10, 20}), 0o644))

	reg, err := servable.Open(root, cpu.New())
	require.NoError(t, err)

	batcher, err := server.NewBatcher(server.BatcherConfig{MaxBatchSize: 8, BatchWindow: time.Millisecond})
	require.NoError(t, err)
	batcher.Start()
	t.Cleanup(batcher.Stop)

	svc := server.NewService(reg, batcher, server.NewMetrics(), nil)
	gs := grpc.NewServer()
	gs.RegisterService(&server.ServiceDesc, svc)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := Dial(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientInfer(t *testing.T) {
	c := startServer(t)

	results, err := c.Infer(context.Background(), "adder", "add", []Instance{
		{"x": Float32s([]float32{1, 2}, 1, 2)},
		{"x": Float32s([]float32{3, 4}, 1, 2)},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	sum, err := results[0]["sum"].Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22}, sum)

	sum, err = results[1]["sum"].Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{13, 24}, sum)
}

func TestClientInferWithVersion(t *testing.T) {
	c := startServer(t)

	_, err := c.Infer(context.Background(), "adder", "add", []Instance{
		{"x": Float32s([]float32{1, 2}, 1, 2)},
	}, WithVersion(1))
	require.NoError(t, err)

	_, err = c.Infer(context.Background(), "adder", "add", []Instance{
		{"x": Float32s([]float32{1, 2}, 1, 2)},
	}, WithVersion(9))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestClientInferUnknownServable(t *testing.T) {
	c := startServer(t)

	_, err := c.Infer(context.Background(), "nope", "add", []Instance{
		{"x": Float32s([]float32{1, 2})},
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestClientInferBadValue(t *testing.T) {
	c := startServer(t)

	_, err := c.Infer(context.Background(), "adder", "add", []Instance{
		{"x": Float32s([]float32{1, 2}, -1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative dimension")
}

func TestClientMetadata(t *testing.T) {
	c := startServer(t)

	info, err := c.Metadata(context.Background(), "adder")
	require.NoError(t, err)
	assert.Equal(t, "adder", info.Name)
	assert.Equal(t, []int64{1}, info.Versions)
	assert.Equal(t, []string{"add"}, info.Methods)
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, "x", info.Inputs[0].Name)
	assert.Equal(t, "float32", info.Inputs[0].DType)

	_, err = c.Metadata(context.Background(), "nope")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestClientListAndHealth(t *testing.T) {
	c := startServer(t)

	servables, err := c.ListServables(context.Background())
	require.NoError(t, err)
	require.Len(t, servables, 1)
	assert.Equal(t, "adder", servables[0].Name)

	n, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestValueAccessors(t *testing.T) {
	v := Int64s([]int64{1, 2, 3})
	assert.Equal(t, "int64", v.DType())
	assert.Equal(t, []int64{3}, v.Shape())

	got, err := v.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got)

	_, err = v.Float32s()
	assert.Error(t, err)
}

package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/born-ml/serve/internal/wire"
)

func TestServiceInfer(t *testing.T) {
	s := newTestService(t)

	reply, err := s.Infer(context.Background(), &wire.InferRequest{
		Servable:  "adder",
		Method:    "add",
		Instances: []wire.Instance{wireInstance(t, 1, 2), wireInstance(t, 3, 4)},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.RequestID)
	require.Len(t, reply.Results, 2)

	sum, ok := reply.Results[0].Get("sum")
	require.True(t, ok)
	raw, err := sum.ToRaw()
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22}, raw.AsFloat32())

	sum, ok = reply.Results[1].Get("sum")
	require.True(t, ok)
	raw, err = sum.ToRaw()
	require.NoError(t, err)
	assert.Equal(t, []float32{13, 24}, raw.AsFloat32())
}

func TestServiceInferValidation(t *testing.T) {
	s := newTestService(t)

	cases := []struct {
		name string
		req  *wire.InferRequest
		code codes.Code
	}{
		{"missing target", &wire.InferRequest{}, codes.InvalidArgument},
		{"no instances", &wire.InferRequest{Servable: "adder", Method: "add"}, codes.InvalidArgument},
		{"negative version", &wire.InferRequest{Servable: "adder", Method: "add", Version: -1,
			Instances: []wire.Instance{wireInstance(t, 1, 2)}}, codes.InvalidArgument},
		{"unknown servable", &wire.InferRequest{Servable: "nope", Method: "add",
			Instances: []wire.Instance{wireInstance(t, 1, 2)}}, codes.NotFound},
		{"unknown method", &wire.InferRequest{Servable: "adder", Method: "nope",
			Instances: []wire.Instance{wireInstance(t, 1, 2)}}, codes.NotFound},
		{"unknown version", &wire.InferRequest{Servable: "adder", Method: "add", Version: 9,
			Instances: []wire.Instance{wireInstance(t, 1, 2)}}, codes.NotFound},
		{"empty instance", &wire.InferRequest{Servable: "adder", Method: "add",
			Instances: []wire.Instance{{}}}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Infer(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestServiceInferTruncatedTensor(t *testing.T) {
	s := newTestService(t)

	instance := wireInstance(t, 1, 2)
	instance.Tensors[0].Data = instance.Tensors[0].Data[:4]
	_, err := s.Infer(context.Background(), &wire.InferRequest{
		Servable:  "adder",
		Method:    "add",
		Instances: []wire.Instance{instance},
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServiceMetadata(t *testing.T) {
	s := newTestService(t)

	reply, err := s.Metadata(context.Background(), &wire.MetadataRequest{Servable: "adder"})
	require.NoError(t, err)
	assert.Equal(t, "adder", reply.Info.Name)
	assert.Equal(t, []int64{1}, reply.Info.Versions)
	assert.Equal(t, []string{"add"}, reply.Info.Methods)
	require.Len(t, reply.Info.Inputs, 1)
	assert.Equal(t, "x", reply.Info.Inputs[0].Name)

	_, err = s.Metadata(context.Background(), &wire.MetadataRequest{Servable: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = s.Metadata(context.Background(), &wire.MetadataRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServiceListAndHealth(t *testing.T) {
	s := newTestService(t)

	list, err := s.ListServables(context.Background(), &wire.ListServablesRequest{})
	require.NoError(t, err)
	require.Len(t, list.Servables, 1)
	assert.Equal(t, "adder", list.Servables[0].Name)

	health, err := s.Health(context.Background(), &wire.HealthRequest{})
	require.NoError(t, err)
	assert.True(t, health.Serving)
	assert.Equal(t, int64(1), health.Servables)
}

func TestServiceInferStoppedBatcher(t *testing.T) {
	s := newTestService(t)
	s.batcher.Stop()

	_, err := s.Infer(context.Background(), &wire.InferRequest{
		Servable:  "adder",
		Method:    "add",
		Instances: []wire.Instance{wireInstance(t, 1, 2)},
	})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/serve/internal/tensor"
)

func TestInferRequestRoundTrip(t *testing.T) {
	raw, err := tensor.FromSlice([]float32{1.5, -2}, tensor.Shape{1, 2}, tensor.CPU)
	require.NoError(t, err)

	req := &InferRequest{
		Servable: "resnet",
		Method:   "classify",
		Version:  3,
		Instances: []Instance{
			{Tensors: []Tensor{FromRaw("image", raw)}},
			{Tensors: []Tensor{FromRaw("image", raw)}},
		},
	}

	data, err := Codec{}.Marshal(req)
	require.NoError(t, err)

	got := &InferRequest{}
	require.NoError(t, Codec{}.Unmarshal(data, got))

	assert.Equal(t, "resnet", got.Servable)
	assert.Equal(t, "classify", got.Method)
	assert.Equal(t, int64(3), got.Version)
	require.Len(t, got.Instances, 2)

	payload, ok := got.Instances[0].Get("image")
	require.True(t, ok)
	assert.Equal(t, tensor.Float32, payload.DType)
	assert.Equal(t, []int64{1, 2}, payload.Shape)

	back, err := payload.ToRaw()
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, back.AsFloat32())
}

func TestTensorValidate(t *testing.T) {
	good := Tensor{Name: "x", DType: tensor.Float32, Shape: []int64{2}, Data: make([]byte, 8)}
	assert.NoError(t, good.Validate())

	short := Tensor{Name: "x", DType: tensor.Float32, Shape: []int64{2}, Data: make([]byte, 4)}
	assert.Error(t, short.Validate())

	negative := Tensor{Name: "x", DType: tensor.Float32, Shape: []int64{-1}, Data: nil}
	assert.Error(t, negative.Validate())

	wrongDType := Tensor{Name: "x", DType: tensor.Int64, Shape: []int64{2}, Data: make([]byte, 8)}
	assert.Error(t, wrongDType.Validate())
}

func TestMetadataReplyRoundTrip(t *testing.T) {
	reply := &MetadataReply{
		Info: ServableInfo{
			Name:     "bert",
			Versions: []int64{1, 2},
			Methods:  []string{"embed", "classify"},
			Inputs:   []TensorInfo{{Name: "tokens", DType: tensor.Int64, Dims: []int64{-1, 128}}},
			Outputs:  []TensorInfo{{Name: "logits", DType: tensor.Float32, Dims: []int64{-1, 2}}},
		},
	}

	got := &MetadataReply{}
	require.NoError(t, got.UnmarshalWire(reply.MarshalWire()))

	assert.Equal(t, reply.Info.Name, got.Info.Name)
	assert.Equal(t, reply.Info.Versions, got.Info.Versions)
	assert.Equal(t, reply.Info.Methods, got.Info.Methods)
	require.Len(t, got.Info.Inputs, 1)
	assert.Equal(t, []int64{-1, 128}, got.Info.Inputs[0].Dims)
	assert.Equal(t, tensor.Int64, got.Info.Inputs[0].DType)
}

func TestHealthReplyRoundTrip(t *testing.T) {
	reply := &HealthReply{Serving: true, Servables: 4}
	got := &HealthReply{}
	require.NoError(t, got.UnmarshalWire(reply.MarshalWire()))
	assert.True(t, got.Serving)
	assert.Equal(t, int64(4), got.Servables)
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	_, err := Codec{}.Marshal(struct{}{})
	assert.Error(t, err)
	assert.Error(t, Codec{}.Unmarshal(nil, &struct{}{}))
}

// Package layers defines the descriptor types for network architectures:
// layer specifications, compiled model specifications with shape and
// parameter metadata, and the structured summary report. Descriptors carry
// no execution logic; the arch package owns the math.
package layers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LayerType identifies a layer kind.
type LayerType int

const (
	Input LayerType = iota
	Dense
	ReLU
	Softmax
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case Input:
		return "Input"
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Softmax:
		return "Softmax"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// LayerSpec is the configuration of a single layer. Shape and parameter
// metadata are filled in during model compilation.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec is a compiled network description.
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder assembles layer specifications into a compiled ModelSpec.
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder creates a builder for a model with the given input shape.
// The first dimension is the batch size.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
	}
}

// AddDense adds a fully connected layer producing outputSize units.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
	return mb
}

// AddReLU adds a rectified linear activation.
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type:       ReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
	return mb
}

// AddSoftmax adds a softmax activation over the feature axis.
func (mb *ModelBuilder) AddSoftmax(name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type:       Softmax,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
	return mb
}

// AddDropout adds a dropout layer with the given drop rate.
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	mb.layers = append(mb.layers, LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
	return mb
}

// Compile computes shapes and parameter metadata for every layer and
// returns the finished ModelSpec.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) < 2 || mb.inputShape[0] <= 0 {
		return nil, fmt.Errorf("input shape must be [batch, features...], got %v", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)+1),
		InputShape: mb.inputShape,
	}
	// The input layer is part of the compiled description even though the
	// builder never adds it explicitly.
	model.Layers[0] = LayerSpec{
		Type: Input,
		Name: "input",
		Parameters: map[string]interface{}{
			"shape": append([]int{}, mb.inputShape...),
		},
		InputShape:  append([]int{}, mb.inputShape...),
		OutputShape: append([]int{}, mb.inputShape...),
	}
	copy(model.Layers[1:], mb.layers)

	currentShape := mb.inputShape
	var allParamShapes [][]int
	totalParams := int64(0)

	for i := 1; i < len(model.Layers); i++ {
		layer := &model.Layers[i]
		layer.InputShape = append([]int{}, currentShape...)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("compiling layer %d (%s): %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParamShapes = append(allParamShapes, paramShapes...)
		totalParams += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParamShapes
	model.TotalParameters = totalParams
	model.Compiled = true
	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case Dropout:
		rate, _ := layer.Parameters["rate"].(float64)
		if rate < 0 || rate >= 1 {
			return nil, nil, 0, fmt.Errorf("dropout rate must be in [0,1), got %v", rate)
		}
		return append([]int{}, inputShape...), nil, 0, nil
	case ReLU, Softmax:
		return append([]int{}, inputShape...), nil, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type)
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	outputSize, ok := layer.Parameters["output_size"].(int)
	if !ok || outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("dense layer needs a positive output_size")
	}
	useBias := true
	if bias, exists := layer.Parameters["use_bias"].(bool); exists {
		useBias = bias
	}

	// Flatten everything but the batch dimension.
	inputSize := 1
	for i := 1; i < len(inputShape); i++ {
		inputSize *= inputShape[i]
	}
	layer.Parameters["input_size"] = inputSize

	outputShape := []int{inputShape[0], outputSize}
	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}
	return outputShape, paramShapes, paramCount, nil
}

// Summary renders the human-readable architecture report: one line per
// layer with its options, parameter count and memory estimate, followed by
// the totals.
func (ms *ModelSpec) Summary() string {
	var b strings.Builder
	b.WriteString("Network architecture:\n")

	totalMB := 0.0
	for _, layer := range ms.Layers {
		mb := layerMemoryMB(&layer)
		totalMB += mb
		fmt.Fprintf(&b, "\t%s(%s): %s parameters %.2fMB\n",
			layer.Type, optionString(layer.Parameters), commafy(layer.ParameterCount), mb)
	}
	fmt.Fprintf(&b, "Sums: %s parameters %.2fMB\n", commafy(ms.TotalParameters), totalMB)
	return b.String()
}

// layerMemoryMB estimates the float32 memory held by one layer's
// activations plus parameters.
func layerMemoryMB(layer *LayerSpec) float64 {
	activations := int64(1)
	for _, d := range layer.OutputShape {
		activations *= int64(d)
	}
	return float64(activations+layer.ParameterCount) * 4 / (1 << 20)
}

func optionString(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ", ")
}

// commafy formats n with thousands separators.
func commafy(n int64) string {
	s := strconv.FormatInt(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

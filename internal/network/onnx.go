package network

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/seglab/segpredict/internal/tensor"
)

func init() {
	Register("onnx", func(cfg Config) (Network, error) {
		return NewONNX(cfg)
	})
}

// ONNX runs a self-contained ONNX model. Weights ship inside the model
// file, so this backend is not Stateful and skips checkpoint loading.
type ONNX struct {
	session *ort.DynamicAdvancedSession
	classes int
	height  int
	width   int
}

// NewONNX creates a session for the model at cfg.ModelPath.
func NewONNX(cfg Config) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx backend requires a model path")
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input"},
		[]string{"output"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNX{
		session: session,
		classes: cfg.Classes,
		height:  cfg.Height,
		width:   cfg.Width,
	}, nil
}

// Forward runs one [C, H, W] sample through the model and returns
// [classes, H, W] raw scores.
func (n *ONNX) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	if n.session == nil {
		return nil, fmt.Errorf("onnx session is closed")
	}
	if input.Dims() != 3 {
		return nil, fmt.Errorf("onnx backend expects a CHW input, got shape %v", input.Shape())
	}
	c, h, w := input.Dim(0), input.Dim(1), input.Dim(2)

	inputShape := ort.NewShape(1, int64(c), int64(h), int64(w))
	inputTensor, err := ort.NewTensor(inputShape, input.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(1, int64(n.classes), int64(h), int64(w))
	outputData := make([]float32, n.classes*h*w)
	outputTensor, err := ort.NewTensor(outputShape, outputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := n.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, len(outputData))
	copy(scores, outputTensor.GetData())
	return tensor.NewDense([]int{n.classes, h, w}, scores)
}

// Close destroys the session and the runtime environment.
func (n *ONNX) Close() error {
	if n.session != nil {
		err := n.session.Destroy()
		n.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return ort.DestroyEnvironment()
}

var _ Network = (*ONNX)(nil)

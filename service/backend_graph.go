package service

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
)

// GraphBackend 预编译推理图后端（ONNX Runtime）。
// 输入输出张量名在构造期解析一次；不支持分块推理。
type GraphBackend struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

func NewGraphBackend(cfg *config.ModelConfig) (*GraphBackend, error) {
	if cfg.GraphPath == "" {
		return nil, errors.Wrap(ErrConfiguration, "graph backend requires a graph path")
	}

	if !ort.IsInitialized() {
		if cfg.OrtLibPath != "" {
			ort.SetSharedLibraryPath(cfg.OrtLibPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize onnxruntime")
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.GraphPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect graph %s", cfg.GraphPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Wrapf(ErrModelLoad, "graph %s declares no inputs or outputs", cfg.GraphPath)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	if cfg.Device >= 0 {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create cuda provider options")
		}
		if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(cfg.Device)}); err != nil {
			cudaOptions.Destroy()
			return nil, errors.Wrap(err, "failed to select cuda device")
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			cudaOptions.Destroy()
			return nil, errors.Wrap(err, "failed to append cuda execution provider")
		}
		cudaOptions.Destroy()
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.GraphPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", cfg.GraphPath)
	}

	return &GraphBackend{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

func (b *GraphBackend) Preprocess(img gocv.Mat) (*Tensor, error) {
	return MatToTensor(img)
}

func (b *GraphBackend) Infer(ctx context.Context, t *Tensor) (*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]), t.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		outputs[0].Destroy()
		return nil, errors.Errorf("unexpected output tensor type for %s", b.outputName)
	}
	defer result.Destroy()

	shape := result.GetShape()
	if len(shape) != 4 {
		return nil, errors.Errorf("expected 4-D output, got shape %v", shape)
	}

	out := &Tensor{
		Data:  make([]float32, len(result.GetData())),
		Shape: [4]int64{shape[0], shape[1], shape[2], shape[3]},
	}
	copy(out.Data, result.GetData())
	return out, nil
}

func (b *GraphBackend) SupportsTiling() bool { return false }

func (b *GraphBackend) Close() error {
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	return nil
}

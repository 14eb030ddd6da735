//go:build silero

package vad

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// mlVAD runs a Silero-style speech/non-speech ONNX model, windowing the
// streaming int16 frames into the model's fixed 512-sample (32ms @16kHz)
// input and carrying the recurrent state tensor between calls.
type mlVAD struct {
	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32]
	stateTensor *ort.Tensor[float32]
	srTensor    *ort.Tensor[int64]

	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	pcmBuf    []float32
	threshold float64
}

const (
	mlWindowSize  = 512
	mlStateSize   = 128
	mlSampleRate  = 16000
	mlThreshold   = 0.5
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func newMlVAD() (VAD, error) {
	modelPath := os.Getenv("MEETINGSCRIBE_SILERO_MODEL_PATH")
	if modelPath == "" {
		return nil, fmt.Errorf("ml vad tier: MEETINGSCRIBE_SILERO_MODEL_PATH not set")
	}
	libPath := os.Getenv("MEETINGSCRIBE_ONNXRUNTIME_LIB_PATH")
	if libPath == "" {
		return nil, fmt.Errorf("ml vad tier: MEETINGSCRIBE_ONNXRUNTIME_LIB_PATH not set")
	}

	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("ml vad tier: initialize onnxruntime: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, mlWindowSize))
	if err != nil {
		return nil, fmt.Errorf("ml vad tier: input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, mlStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("ml vad tier: state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{mlSampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("ml vad tier: sample-rate tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("ml vad tier: output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, mlStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("ml vad tier: stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("ml vad tier: create session: %w", err)
	}

	return &mlVAD{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, mlWindowSize*2),
		threshold:    mlThreshold,
	}, nil
}

func (m *mlVAD) IsSpeech(frame []int16, frameMs int) (bool, float64, error) {
	if err := validateFrame(frame, frameMs); err != nil {
		return false, 0, err
	}

	for _, s := range frame {
		m.pcmBuf = append(m.pcmBuf, float32(s)/32768.0)
	}

	var lastProb float32
	var sawResult bool
	for len(m.pcmBuf) >= mlWindowSize {
		prob, err := m.infer(m.pcmBuf[:mlWindowSize])
		if err != nil {
			return false, 0, err
		}
		m.pcmBuf = m.pcmBuf[mlWindowSize:]
		lastProb = prob
		sawResult = true
	}

	if !sawResult {
		// Not enough samples accumulated yet for a full window; report the
		// frame as silence with zero confidence rather than block.
		return false, 0, nil
	}
	return float64(lastProb) >= m.threshold, float64(lastProb), nil
}

func (m *mlVAD) infer(window []float32) (float32, error) {
	copy(m.inputTensor.GetData(), window)
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("ml vad tier: inference: %w", err)
	}
	prob := m.outputTensor.GetData()[0]
	copy(m.stateTensor.GetData(), m.stateNTensor.GetData())
	return prob, nil
}

func (m *mlVAD) Reset() {
	for i := range m.stateTensor.GetData() {
		m.stateTensor.GetData()[i] = 0
	}
	m.pcmBuf = m.pcmBuf[:0]
}

func (m *mlVAD) Tier() string { return TierMl }

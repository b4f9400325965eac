package optimizer

import (
	"math"
	"strings"
	"testing"
)

func TestNewRejectsUnknownName(t *testing.T) {
	_, err := New("rmsprop_plus", 0.01, nil)
	if err == nil {
		t.Fatal("expected error for unknown update function")
	}
	msg := err.Error()
	if !strings.Contains(msg, "valid values") {
		t.Errorf("expected valid names in error, got %q", msg)
	}
	// Names must be listed in sorted order.
	if !strings.Contains(msg, "[adam momentum nesterov_momentum sgd]") {
		t.Errorf("expected sorted name list, got %q", msg)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("sgd", 0, nil); err == nil {
		t.Error("expected error for non-positive learning rate")
	}
	if _, err := New("sgd", 0.1, map[string]string{"momentum": "0.9"}); err == nil {
		t.Error("expected error for kwarg plain sgd does not take")
	}
	if _, err := New("momentum", 0.1, map[string]string{"momentum": "fast"}); err == nil {
		t.Error("expected error for non-numeric momentum")
	}
	if _, err := New("adam", 0.1, map[string]string{"beta3": "0.5"}); err == nil {
		t.Error("expected error for unknown adam parameter")
	}
}

func TestPlainSGDStep(t *testing.T) {
	opt, err := New("sgd", 0.5, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	params := [][]float32{{1, 2}}
	grads := [][]float32{{0.2, -0.4}}
	opt.Update(params, grads)

	if math.Abs(float64(params[0][0])-0.9) > 1e-6 {
		t.Errorf("expected 0.9, got %v", params[0][0])
	}
	if math.Abs(float64(params[0][1])-2.2) > 1e-6 {
		t.Errorf("expected 2.2, got %v", params[0][1])
	}
}

func TestMomentumAccumulatesVelocity(t *testing.T) {
	opt, err := New("momentum", 1.0, map[string]string{"momentum": "0.5"})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	params := [][]float32{{0}}
	grads := [][]float32{{1}}

	// v1 = -1, p = -1; v2 = 0.5*-1 - 1 = -1.5, p = -2.5
	opt.Update(params, grads)
	if math.Abs(float64(params[0][0])+1) > 1e-6 {
		t.Fatalf("after first step expected -1, got %v", params[0][0])
	}
	opt.Update(params, grads)
	if math.Abs(float64(params[0][0])+2.5) > 1e-6 {
		t.Errorf("after second step expected -2.5, got %v", params[0][0])
	}
}

func TestNesterovDiffersFromClassical(t *testing.T) {
	classical, _ := New("momentum", 0.1, nil)
	nesterov, _ := New("nesterov_momentum", 0.1, nil)

	pc := [][]float32{{1}}
	pn := [][]float32{{1}}
	g := [][]float32{{1}}

	// First steps: classical moves by v = -0.1, nesterov by 0.9*v - 0.1.
	classical.Update(pc, g)
	nesterov.Update(pn, g)

	if math.Abs(float64(pc[0][0])-0.9) > 1e-6 {
		t.Errorf("classical: expected 0.9, got %v", pc[0][0])
	}
	want := 1 + 0.9*(-0.1) - 0.1
	if math.Abs(float64(pn[0][0])-want) > 1e-6 {
		t.Errorf("nesterov: expected %v, got %v", want, pn[0][0])
	}
}

func TestAdamFirstStepMagnitude(t *testing.T) {
	opt, err := New("adam", 0.001, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	params := [][]float32{{1}}
	grads := [][]float32{{0.5}}
	opt.Update(params, grads)

	// With bias correction the first step moves by roughly lr regardless of
	// gradient magnitude.
	moved := 1 - float64(params[0][0])
	if math.Abs(moved-0.001) > 1e-5 {
		t.Errorf("expected first step near 0.001, got %v", moved)
	}
}

func TestLearningRateCell(t *testing.T) {
	opt, err := New("nesterov_momentum", 0.01, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if opt.GetLR() != 0.01 {
		t.Errorf("expected 0.01, got %v", opt.GetLR())
	}
	opt.SetLR(0.001)
	if opt.GetLR() != 0.001 {
		t.Errorf("expected updated rate 0.001, got %v", opt.GetLR())
	}
	if opt.Name() != "nesterov_momentum" {
		t.Errorf("expected name preserved, got %s", opt.Name())
	}
}

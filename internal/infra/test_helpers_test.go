package infra

import (
	"os"
	"syscall"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	runningPIDs map[int]bool
	signaled    map[int]syscall.Signal
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		signaled:    make(map[int]syscall.Signal),
	}
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) {
	return nil, nil
}

func (m *mockProcessManager) Signal(pid int, sig syscall.Signal) error {
	m.signaled[pid] = sig
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

// Package mock_interaction is a hand-maintained gomock.Matches-compatible
// double for interaction.UserInteraction, in the shape mockgen would
// produce from `mockgen -source=interaction.go`.
package mock_interaction

import (
	reflect "reflect"

	interaction "github.com/kzahel/jstorrentd/interaction"
	gomock "github.com/golang/mock/gomock"
)

// MockUserInteraction is a mock of the UserInteraction interface.
type MockUserInteraction struct {
	ctrl     *gomock.Controller
	recorder *MockUserInteractionMockRecorder
}

// MockUserInteractionMockRecorder is the mock recorder for MockUserInteraction.
type MockUserInteractionMockRecorder struct {
	mock *MockUserInteraction
}

// NewMockUserInteraction creates a new mock instance.
func NewMockUserInteraction(ctrl *gomock.Controller) *MockUserInteraction {
	mock := &MockUserInteraction{ctrl: ctrl}
	mock.recorder = &MockUserInteractionMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockUserInteraction) EXPECT() *MockUserInteractionMockRecorder {
	return m.recorder
}

// ShowPairingApproval mocks base method.
func (m *MockUserInteraction) ShowPairingApproval(triple interaction.PairingTriple, isReplace bool, onResult func(bool)) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "ShowPairingApproval", triple, isReplace, onResult)
}

// ShowPairingApproval indicates an expected call of ShowPairingApproval.
func (mr *MockUserInteractionMockRecorder) ShowPairingApproval(triple, isReplace, onResult interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ShowPairingApproval", reflect.TypeOf((*MockUserInteraction)(nil).ShowPairingApproval), triple, isReplace, onResult)
}

// OpenFolderPicker mocks base method.
func (m *MockUserInteraction) OpenFolderPicker() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "OpenFolderPicker")
}

// OpenFolderPicker indicates an expected call of OpenFolderPicker.
func (mr *MockUserInteractionMockRecorder) OpenFolderPicker() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OpenFolderPicker", reflect.TypeOf((*MockUserInteraction)(nil).OpenFolderPicker))
}

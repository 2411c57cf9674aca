package dialogue

// TaskKind discriminates the pending-task variants.
type TaskKind string

const (
	// TaskCollect asks the user for a slot value. Always requires input.
	TaskCollect TaskKind = "collect"

	// TaskConfirm asks the user to confirm or deny. Always requires input.
	TaskConfirm TaskKind = "confirm"

	// TaskInform delivers a message. Requires input only with WaitForAck.
	TaskInform TaskKind = "inform"
)

// Task describes what user input the runtime is waiting for. It is the only
// suspension gate in the system: a non-nil Task on the state pauses the turn,
// and the next turn's input resumes it.
type Task struct {
	Kind   TaskKind `json:"kind"`
	Prompt string   `json:"prompt"`

	// SlotName is the slot a collect task fills, or the confirmation slot
	// a confirm task resolves.
	SlotName string `json:"slot_name,omitempty"`

	// Options are suggested replies a client may render as quick buttons.
	Options []string `json:"options,omitempty"`

	// WaitForAck makes an inform task block until the user acknowledges.
	WaitForAck bool `json:"wait_for_ack,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewCollectTask builds a collect task for the given slot.
func NewCollectTask(prompt, slotName string, options []string) *Task {
	return &Task{Kind: TaskCollect, Prompt: prompt, SlotName: slotName, Options: options}
}

// NewConfirmTask builds a confirm task resolving the given confirmation slot.
// Options default to yes/no when not provided.
func NewConfirmTask(prompt, slotName string, options []string) *Task {
	if len(options) == 0 {
		options = []string{"yes", "no"}
	}
	return &Task{Kind: TaskConfirm, Prompt: prompt, SlotName: slotName, Options: options}
}

// NewInformTask builds an inform task.
func NewInformTask(prompt string, waitForAck bool) *Task {
	return &Task{Kind: TaskInform, Prompt: prompt, WaitForAck: waitForAck}
}

// RequiresInput reports whether execution must suspend for this task.
func (t *Task) RequiresInput() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case TaskCollect, TaskConfirm:
		return true
	case TaskInform:
		return t.WaitForAck
	}
	return false
}

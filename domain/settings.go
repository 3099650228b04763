package domain

// Settings represents user configurable board options.
type Settings struct {
	TasksPerColumn int  `json:"tasksPerColumn"`
	ShowDoneTasks  bool `json:"showDoneTasks"`
}

package config

type WorkerKeyStruct struct {
	PersistActivityQueue string
	PersistAnswersQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistActivityQueue: "persist_activity_queue",
	PersistAnswersQueue:  "persist_answers_queue",
}

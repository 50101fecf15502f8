package logger

import "go.uber.org/zap"

// Field helpers keep key names consistent across the scheduler, agent and recorder.

func RunID(id string) zap.Field { return zap.String("run_id", id) }

func CallIndex(idx int) zap.Field { return zap.Int("call_index", idx) }

func Room(name string) zap.Field { return zap.String("room", name) }

func DispatchID(id string) zap.Field { return zap.String("dispatch_id", id) }

func Trigger(name string) zap.Field { return zap.String("trigger", name) }

package persistence

import (
	"fmt"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// Key layout. These names are part of the durable contract shared with every
// process reading the same store.

func executionKey(typ execution.Type, id string) string {
	return fmt.Sprintf("%s:%s", typ, id)
}

func stageIndexKey(typ execution.Type, id string) string {
	return executionKey(typ, id) + ":stageIndex"
}

func allJobsKey(typ execution.Type) string {
	return fmt.Sprintf("allJobs:%s", typ)
}

func applicationKey(typ execution.Type, application string) string {
	return fmt.Sprintf("%s:app:%s", typ, application)
}

func bufferedKey(typ execution.Type) string {
	return fmt.Sprintf("buffered:%s", typ)
}

func pipelineConfigKey(pipelineConfigID string) string {
	return fmt.Sprintf("pipeline:executions:%s", pipelineConfigID)
}

func correlationKey(typ execution.Type, correlationID string) string {
	return fmt.Sprintf("%s:correlation:%s", typ, correlationID)
}

func stageField(stageID, attr string) string {
	return fmt.Sprintf("stage.%s.%s", stageID, attr)
}

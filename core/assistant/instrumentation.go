package assistant

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-coach/core/assistant"

var logger = otelslog.NewLogger(scopeName)

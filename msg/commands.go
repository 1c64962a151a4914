package msg

// Client to broker commands. Commands outside this set are answered with an
// error reply when they carry a cmdid and dropped otherwise.
const (
	CmdRunSimulation              = "run_simulation"
	CmdCancelSimulation           = "cancel_simulation"
	CmdGetLog                     = "get_log"
	CmdGetTrace                   = "get_trace"
	CmdGetSpatialStepTrace        = "get_spatial_step_trace"
	CmdGetLastSpatialStepTraceIdx = "get_last_spatial_step_trace_idx"
	CmdGetSimulations             = "get_simulations"
	CmdDeleteSimulation           = "delete_simulation"
)

// Broker to client commands: pushes and correlated replies.
const (
	CmdSimStatus               = "simStatus"
	CmdSimLog                  = "simLog"
	CmdSimTrace                = "simTrace"
	CmdSimStepTrace            = "simStepTrace"
	CmdSimSpatialStepTrace     = "simSpatialStepTrace"
	CmdLog                     = "log"
	CmdSimulations             = "simulations"
	CmdSpatialStepTrace        = "spatial_step_trace"
	CmdLastSpatialStepTraceIdx = "last_spatial_step_trace_idx"
	CmdError                   = "error"
)

// Broker to worker commands.
const (
	CmdStartJob    = "startJob"
	CmdStopJob     = "stopJob"
	CmdGetTmpLog   = "getTmpLog"
	CmdGetTmpTrace = "getTmpTrace"
)

// Worker to broker correlated replies; worker pushes reuse the simStatus,
// simLog, simTrace, simStepTrace and simSpatialStepTrace tags above.
const (
	CmdTmpLog   = "tmpLog"
	CmdTmpTrace = "tmpTrace"
)

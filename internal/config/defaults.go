package config

const (
	defaultShareDir             = "~/.local/share/beamline"
	defaultLogDir               = "~/.local/share/beamline/logs"
	defaultFirmwareDir          = "~/krakensdr/heimdall_daq_fw"
	defaultCacheFile            = "~/.cache/beamline/calibration_cache.json"
	defaultTTLSeconds           = 3600
	defaultFrequencyStartHz     = 50e6
	defaultFrequencyStopHz      = 200e6
	defaultFrequencyStepHz      = 5e6
	defaultSampleCount          = 8192
	defaultSampleWindowMillis   = 1000
	defaultAmplitudeToleranceDB = 2.0
	defaultDelayToleranceNs     = 120.0
	defaultMaxRetries           = 3
	defaultRetryBackoffSeconds  = 2
	defaultSyncFailureThreshold = 10
	defaultDAQBinary            = "heimdall_daq"
	defaultGUIBinary            = "kraken_doa_server"
	defaultGUIPort              = 8080
	defaultRelayBinary          = "kraken_relay"
	defaultRelayPort            = 8042
	defaultStartTimeoutSeconds  = 30
	defaultStopTimeoutSeconds   = 10
	defaultProbeIntervalMillis  = 250
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults: a dual-unit
// setup with cached, parallel, shared-stimulus calibration enabled.
func Default() Config {
	return Config{
		Paths: Paths{
			ShareDir:    defaultShareDir,
			LogDir:      defaultLogDir,
			FirmwareDir: defaultFirmwareDir,
			CacheFile:   defaultCacheFile,
		},
		Units: []Unit{
			{Name: "kraken0", Role: string(RoleMaster), DeviceIndex: 0, ControlPort: 5000, DataPort: 5001},
			{Name: "kraken1", Role: string(RoleSlave), DeviceIndex: 1, ControlPort: 5100, DataPort: 5101},
		},
		Calibration: Calibration{
			TTLSeconds:           defaultTTLSeconds,
			FrequencyStartHz:     defaultFrequencyStartHz,
			FrequencyStopHz:      defaultFrequencyStopHz,
			FrequencyStepHz:      defaultFrequencyStepHz,
			SampleCount:          defaultSampleCount,
			SampleWindowMillis:   defaultSampleWindowMillis,
			AmplitudeToleranceDB: defaultAmplitudeToleranceDB,
			DelayToleranceNs:     defaultDelayToleranceNs,
			MaxRetries:           defaultMaxRetries,
			RetryBackoffSeconds:  defaultRetryBackoffSeconds,
			SyncFailureThreshold: defaultSyncFailureThreshold,
			DualMode:             true,
			Parallel:             true,
			SharedStim:           true,
			UseCache:             true,
		},
		Services: Services{
			DAQBinary:           defaultDAQBinary,
			GUIBinary:           defaultGUIBinary,
			GUIPort:             defaultGUIPort,
			RelayBinary:         defaultRelayBinary,
			RelayPort:           defaultRelayPort,
			StartTimeoutSeconds: defaultStartTimeoutSeconds,
			StopTimeoutSeconds:  defaultStopTimeoutSeconds,
			ProbeIntervalMillis: defaultProbeIntervalMillis,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

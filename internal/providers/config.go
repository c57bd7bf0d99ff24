package providers

import "time"

type Config struct {
	Provider   string `yaml:"provider"`
	KeysDir    string `yaml:"keys_dir"`
	StatePath  string `yaml:"state_path"`
	KnownHosts string `yaml:"known_hosts"`
	AWS        struct {
		Profile         string `yaml:"profile"`
		Region          string `yaml:"region"`
		Image           string `yaml:"image"`
		InstanceType    string `yaml:"instance_type"`
		TagKey          string `yaml:"tag_key"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
	} `yaml:"aws"`
	Hetzner struct {
		Token      string `yaml:"token"`
		Location   string `yaml:"location"`
		Image      string `yaml:"image"`
		ServerType string `yaml:"server_type"`
		Endpoint   string `yaml:"endpoint"`
	} `yaml:"hetzner"`
	Poll struct {
		Interval    time.Duration `yaml:"interval"`
		MaxInterval time.Duration `yaml:"max_interval"`
		Backoff     float64       `yaml:"backoff"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"poll"`
	Settle struct {
		Mode          string        `yaml:"mode"`
		Delay         time.Duration `yaml:"delay"`
		ProbeTimeout  time.Duration `yaml:"probe_timeout"`
		ProbeInterval time.Duration `yaml:"probe_interval"`
		Port          int           `yaml:"port"`
	} `yaml:"settle"`
	Bootstrap struct {
		Binary    string            `yaml:"binary"`
		Playbook  string            `yaml:"playbook"`
		User      string            `yaml:"user"`
		ExtraVars map[string]string `yaml:"extra_vars"`
	} `yaml:"bootstrap"`
	CloudInit struct {
		Packages []string `yaml:"packages"`
	} `yaml:"cloud_init"`
	LocalSSH struct {
		Host    string `yaml:"host"`
		KeyFile string `yaml:"key_file"`
	} `yaml:"localssh"`
	Telemetry struct {
		MetricsFile string `yaml:"metrics_file"`
	} `yaml:"telemetry"`
}

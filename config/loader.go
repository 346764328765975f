package config

import (
	"fmt"
	"os"

	"github.com/odpf/salt/config"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	DefaultFilename      = "datajobs"
	DefaultFileExtension = "yaml"
	DefaultEnvPrefix     = "DATAJOBS"
	EmptyPath            = ""
)

var (
	FS       = afero.NewReadOnlyFs(afero.NewOsFs())
	execPath string
	homePath string
)

func init() {
	p, err := os.Executable()
	if err != nil {
		panic(err)
	}
	execPath = p

	p, err = os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	homePath = p
}

// LoadServerConfig load the server specific config from these locations:
// 1. filepath. ./datajobs <server_command> -c "path/to/config.yaml"
// 2. env var. eg. DATAJOBS_SERVE_PORT, etc
// 3. executable binary location
// 4. home dir
func LoadServerConfig(filePath string) (*ServerConfig, error) {
	return loadServerConfigFs(FS, filePath)
}

func loadServerConfigFs(fs afero.Fs, filePath string) (*ServerConfig, error) {
	cfg := &ServerConfig{}

	v := viper.New()
	v.SetFs(fs)

	opts := []config.LoaderOption{
		config.WithViper(v),
		config.WithName(DefaultFilename),
		config.WithType(DefaultFileExtension),
		config.WithEnvPrefix(DefaultEnvPrefix),
		config.WithEnvKeyReplacer(".", "_"),
	}

	if filePath != EmptyPath {
		if err := validateFilepath(fs, filePath); err != nil {
			return nil, err
		}
		opts = append(opts, config.WithFile(filePath))
	} else {
		opts = append(opts, config.WithPath(execPath), config.WithPath(homePath))
	}

	l := config.NewLoader(opts...)
	if err := l.Load(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFilepath(fs afero.Fs, fpath string) error {
	f, err := fs.Stat(fpath)
	if err != nil {
		return err
	}
	if !f.Mode().IsRegular() {
		return fmt.Errorf("%s not a file", fpath)
	}
	return nil
}

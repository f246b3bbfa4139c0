package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".doubtfire/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"doubtfire/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-southeast-2"`
}

// WorkEnv locates the student work tree: staged uploads, converted
// evidence and compiled portfolios all live under WorkDir.
type WorkEnv struct {
	WorkDir string `envconfig:"STUDENT_WORK_DIR" default:".doubtfire/student_work"`
}

// ToolsEnv holds the external PDF tool command templates. Each template is
// split with shell word rules; {{in}}, {{out}} and {{ins}} are replaced with
// the input path, output path and the full ordered input list.
type ToolsEnv struct {
	PDFCheckCmd       string `envconfig:"PDF_CHECK_CMD" default:"pdftk {{in}} output /dev/null dont_ask"`
	PDFCompressCmd    string `envconfig:"PDF_COMPRESS_CMD" default:"gs -sDEVICE=pdfwrite -dCompatibilityLevel=1.3 -dDetectDuplicateImages=true -dPDFSETTINGS=/screen -dNOPAUSE -dBATCH -dQUIET -sOutputFile={{out}} {{in}}"`
	PDFCompressAltCmd string `envconfig:"PDF_COMPRESS_ALT_CMD" default:"convert {{in}} -compress Zip {{out}}"`
	PDFMergeCmd       string `envconfig:"PDF_MERGE_CMD" default:"pdftk {{ins}} cat output {{out}} dont_ask compress"`

	CheckTimeoutSec    int `envconfig:"PDF_CHECK_TIMEOUT_SEC" default:"30"`
	CompressTimeoutSec int `envconfig:"PDF_COMPRESS_TIMEOUT_SEC" default:"120"`
	MergeTimeoutSec    int `envconfig:"PDF_MERGE_TIMEOUT_SEC" default:"180"`
}

// VAPIDEnv holds web push credentials. Push is disabled when the keys are
// left empty.
type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@doubtfire.io"`
}

type Env struct {
	BaseEnv
	StorageEnv
	WorkEnv
	ToolsEnv
	VAPIDEnv
}

const namespace = "DOUBTFIRE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func ToolsEnvFromEnv(env *Env) *ToolsEnv {
	return &env.ToolsEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}

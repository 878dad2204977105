package config

import "github.com/joho/godotenv"

// LoadEnv loads a .env file from the working directory if there is one.
// Values already present in the environment win over the file.
// A missing file is reported as an error satisfying os.IsNotExist.
func LoadEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}

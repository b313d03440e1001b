package store

import "io/ioutil"

func readFile(path string) ([]byte, error) {
	return ioutil.ReadFile(path)
}

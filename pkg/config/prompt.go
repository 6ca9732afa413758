package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

// PromptCredentials fills the missing fields of c by asking on the given
// reader/writer pair. It is used when the credentials file is absent or a
// cluster's row carries neither a token nor a user/pass pair.
func PromptCredentials(in io.Reader, out io.Writer, cluster string, c types.ClusterCredentials) (types.ClusterCredentials, error) {
	br := bufio.NewReader(in)

	if c.Endpoint == "" {
		v, err := ask(br, out, fmt.Sprintf("%s cluster API endpoint: ", cluster))
		if err != nil {
			return c, err
		}
		c.Endpoint = v
	}

	if !c.HasAuth() {
		v, err := ask(br, out, fmt.Sprintf("%s cluster username: ", cluster))
		if err != nil {
			return c, err
		}
		c.Username = v

		v, err = ask(br, out, fmt.Sprintf("%s cluster password: ", cluster))
		if err != nil {
			return c, err
		}
		c.Password = v
	}

	if c.Endpoint == "" {
		return c, errors.Errorf("no endpoint given for %s cluster", cluster)
	}
	if !c.HasAuth() {
		return c, errors.Errorf("no credentials given for %s cluster", cluster)
	}
	return c, nil
}

func ask(br *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "reading input")
	}
	return strings.TrimSpace(line), nil
}

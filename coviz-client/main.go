// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary fetches coverage overviews from a coviz server, optionally
// with Google authentication.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/googlegenomics/coviz/overview"
)

const (
	scope        = "https://www.googleapis.com/auth/userinfo.email"
	overviewPath = "/_getoverviewcov"
)

var (
	region     = flag.String("r", "", "region to fetch, such as 1:1000000-2000000")
	median     = flag.Float64("median", 0, "median depth of the sample, 0 for the server default")
	output     = flag.String("o", "", "output filename")
	googleAuth = flag.Bool("google_auth", false, "authenticate with Google application default credentials")
)

func main() {
	flag.Parse()

	w := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to open output file: %v", err)
		}
		defer f.Close()

		w = f
	}

	ctx := context.Background()

	// For compatibility with other tools, read the standard cURL certificate
	// authority override from the environment.
	if bundle := os.Getenv("CURL_CA_BUNDLE"); bundle != "" {
		pem, err := ioutil.ReadFile(bundle)
		if err != nil {
			log.Fatalf("Failed to read CA override file %q: %v", bundle, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			log.Fatalf("Failed to initialize system certificate pool: %v", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			log.Fatalf("Failed to add certificates from bundle %q", bundle)
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: pool,
				}},
		})
		log.Printf("Using CA override bundle from %q", bundle)
	}

	client := http.DefaultClient
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		client = c
	}
	if *googleAuth {
		c, err := google.DefaultClient(ctx, scope)
		if err != nil {
			log.Fatalf("Failed to create client: %v", err)
		}
		client = c
	}

	enc := json.NewEncoder(w)
	for _, server := range flag.Args() {
		target, err := overviewURL(server, *region, *median)
		if err != nil {
			log.Fatalf("Invalid server %q: %v", server, err)
		}

		log.Printf("Fetching %q", target)
		resp, err := fetch(client, target)
		if err != nil {
			log.Fatalf("Request failed: %v", err)
		}
		log.Printf("Received %s %s:%d-%d with %d coverage and %d BAF points",
			resp.Status, resp.Chrom, resp.Start, resp.End, len(resp.Data)/2, len(resp.BAF)/2)

		if err := enc.Encode(resp); err != nil {
			log.Fatalf("Failed to write response: %v", err)
		}
	}
}

// overviewURL returns the overview endpoint of server with the region and
// median parameters set.  A server given with a path is used as is.
func overviewURL(server, region string, median float64) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("expected an absolute URL")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = overviewPath
	}

	target := u.String()
	if region != "" {
		target = addParameter(target, "region", region)
	}
	if median > 0 {
		target = addParameter(target, "median", strconv.FormatFloat(median, 'g', -1, 64))
	}
	return target, nil
}

func addParameter(input, name, value string) string {
	values := url.Values{}
	values.Set(name, value)
	if strings.Contains(input, "?") {
		return input + "&" + values.Encode()
	}
	return input + "?" + values.Encode()
}

func fetch(client *http.Client, target string) (*overview.Response, error) {
	resp, err := client.Get(target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}

	var v overview.Response
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding response: %v", err)
	}
	return &v, nil
}

func errorFromResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestedRangeNotSatisfiable:
		v := make(map[string]string)
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return fmt.Errorf("%s: parsing response body: %v", strings.ToLower(http.StatusText(resp.StatusCode)), err)
		}
		if message, ok := v["message"]; ok {
			return fmt.Errorf("%s (%s)", message, v["error"])
		}
	}
	return fmt.Errorf("unexpected response status: %q", resp.Status)
}

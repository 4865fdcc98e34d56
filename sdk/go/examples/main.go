package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/api"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/profile"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/sdk/go/vitals"
)

func main() {
	// 未加载模型的内存版服务，演示档案接口与预测接口的错误处理。
	server := api.NewServer(api.Options{}, api.Dependencies{
		Predictor: inference.New("proposed_model.json.zst"),
		Profiles:  profile.NewService(profile.NewMemoryStore()),
		History:   prediction.NewMemoryStore(),
	})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := vitals.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.CreateProfile(ctx, vitals.ProfileInput{Name: "Demo", Email: "demo@example.com"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("created profile %d (%s)\n", created.ID, created.Email)

	profiles, err := client.ListProfiles(ctx, vitals.ListProfilesOptions{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("listed %d profile(s)\n", len(profiles))

	_, err = client.Predict(ctx, vitals.Vitals{TempC: 37.5, SpO2: 95, BPM: 72})
	var apiErr *vitals.APIError
	if errors.As(err, &apiErr) {
		fmt.Printf("predict returned %d: %s\n", apiErr.StatusCode, apiErr.Message)
	}
}

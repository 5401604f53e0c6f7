package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComponentType(t *testing.T) {
	tests := []struct {
		in      string
		want    ComponentType
		wantErr bool
	}{
		{in: "ACTIVITY", want: ComponentActivity},
		{in: "receiver", want: ComponentReceiver},
		{in: " Service ", want: ComponentService},
		{in: "provider", want: ComponentProvider},
		{in: "broadcast", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseComponentType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseControllerType(t *testing.T) {
	got, err := ParseControllerType("ifw_plus_pm")
	require.NoError(t, err)
	assert.Equal(t, ControllerIFWPlusPM, got)

	_, err = ParseControllerType("root")
	assert.Error(t, err)
}

func TestComponentStatus_Reachable(t *testing.T) {
	assert.True(t, ComponentStatus{}.Reachable())
	assert.False(t, ComponentStatus{PMBlocked: true}.Reachable())
	assert.False(t, ComponentStatus{IFWBlocked: true}.Reachable())
}

func TestComponentRef_FlattenedName(t *testing.T) {
	ref := ComponentRef{PackageName: "com.app", ComponentName: "com.app.Main"}
	assert.Equal(t, "com.app/com.app.Main", ref.FlattenedName())
}

func TestRuleFile_JSONFieldNames(t *testing.T) {
	rf := RuleFile{
		PackageName: "com.app",
		VersionName: "1.0",
		VersionCode: 7,
		Components: []ComponentRule{
			{PackageName: "com.app", Name: "com.app.Main", State: false, Type: ComponentActivity, Method: MethodIFW},
		},
	}

	data, err := json.Marshal(rf)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"packageName": "com.app",
		"versionName": "1.0",
		"versionCode": 7,
		"components": [
			{"packageName": "com.app", "name": "com.app.Main", "state": false, "type": "ACTIVITY", "method": "IFW"}
		]
	}`, string(data))
}

func TestCommandResult_Lines(t *testing.T) {
	r := &CommandResult{Stdout: "a  \nb\r\n\n"}
	assert.Equal(t, []string{"a", "b"}, r.Lines())

	var nilResult *CommandResult
	assert.False(t, nilResult.Success())
	assert.Nil(t, nilResult.Lines())
}

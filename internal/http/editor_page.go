package httpx

import "html/template"

type editorPageData struct {
	ProjectID    string
	Source       string
	Origin       string
	OpenURL      string
	MessagesPath string
}

// editorPage hosts the editor frame and forwards messages from the editor
// origin to the relay.
var editorPage = template.Must(template.New("editor").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Lovable Editor: {{.ProjectID}}</title>
<style>
html, body { margin: 0; height: 100%; font-family: sans-serif; }
header { display: flex; justify-content: space-between; padding: 8px 12px; border-bottom: 1px solid #ddd; }
iframe { border: 0; width: 100%; height: calc(100% - 41px); }
</style>
</head>
<body>
<header>
<span>Lovable Editor</span>
<a href="{{.OpenURL}}" target="_blank" rel="noopener">Open in new tab</a>
</header>
<iframe id="lovable-iframe" src="{{.Source}}" title="Lovable Editor"
  sandbox="allow-same-origin allow-scripts allow-forms allow-popups allow-popups-to-escape-sandbox"></iframe>
<script>
(function () {
  var allowed = {{.Origin}};
  var endpoint = {{.MessagesPath}};
  var token = new URLSearchParams(window.location.search).get("relay_token");
  window.addEventListener("message", function (event) {
    if (event.origin !== allowed || !event.data || typeof event.data.type !== "string") {
      return;
    }
    var headers = { "Content-Type": "application/json" };
    if (token) {
      headers["Authorization"] = "Bearer " + token;
    }
    fetch(endpoint, {
      method: "POST",
      headers: headers,
      body: JSON.stringify({ origin: event.origin, type: event.data.type, data: event.data.data })
    });
  });
})();
</script>
</body>
</html>
`))
